package coordinator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualWeightPolicyCopiesCaps(t *testing.T) {
	g := validGraph()
	policy, err := NewPolicy(PolicyConfig{Type: PolicyEqualWeight})
	require.NoError(t, err)
	require.NoError(t, policy.Prepare(g))

	env, ok := policy.EnvelopeFor("momentum-1", "AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(100), env.MaxPosition)
	assert.True(t, env.MaxNotional.Equal(decimal.NewFromInt(10000)))

	_, ok = policy.EnvelopeFor("momentum-1", "TSLA")
	assert.False(t, ok, "symbol outside the node's list has no envelope")

	_, ok = policy.EnvelopeFor("ghost", "AAPL")
	assert.False(t, ok)
}

func TestFixedWeightPolicyScalesCaps(t *testing.T) {
	g := validGraph()
	g.Policy = PolicyConfig{Type: PolicyFixed, Weights: map[string]float64{"momentum-1": 0.5, "mean-rev": 0.2}}
	require.NoError(t, g.Validate())

	policy, err := NewPolicy(g.Policy)
	require.NoError(t, err)
	require.NoError(t, policy.Prepare(g))

	env, ok := policy.EnvelopeFor("momentum-1", "AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(50), env.MaxPosition)
	assert.True(t, env.MaxNotional.Equal(decimal.NewFromInt(5000)))
}

func TestVolTargetPolicyShrinksVolatileNodes(t *testing.T) {
	g := validGraph()
	g.Policy = PolicyConfig{Type: PolicyVolTarget, TargetVol: 0.10}
	g.Strategies[0].Params = map[string]any{"annualized_vol": 0.20}

	policy, err := NewPolicy(g.Policy)
	require.NoError(t, err)
	require.NoError(t, policy.Prepare(g))

	env, ok := policy.EnvelopeFor("momentum-1", "AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(50), env.MaxPosition, "halved by 2x target vol")

	env, ok = policy.EnvelopeFor("mean-rev", "MSFT")
	require.True(t, ok)
	assert.Equal(t, int64(50), env.MaxPosition, "no declared vol keeps full caps")
}

func TestNewPolicyUnknownType(t *testing.T) {
	_, err := NewPolicy(PolicyConfig{Type: "kelly"})
	assert.Error(t, err)
}
