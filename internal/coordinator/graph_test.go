package coordinator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGraph() *GraphConfig {
	return &GraphConfig{
		Name: "test-run",
		Strategies: []NodeConfig{
			{ID: "momentum-1", Type: "manual", Symbols: []string{"AAPL", "MSFT"}, MaxPosition: 100, MaxNotional: decimal.NewFromInt(10000)},
			{ID: "mean-rev", Type: "manual", Symbols: []string{"MSFT"}, MaxPosition: 50, MaxNotional: decimal.NewFromInt(5000)},
		},
	}
}

func TestGraphValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validGraph().Validate())
	})

	t.Run("duplicate ids rejected", func(t *testing.T) {
		g := validGraph()
		g.Strategies[1].ID = g.Strategies[0].ID
		assert.Error(t, g.Validate())
	})

	t.Run("id must be a slug", func(t *testing.T) {
		g := validGraph()
		g.Strategies[0].ID = "Momentum One"
		assert.Error(t, g.Validate())
	})

	t.Run("needs at least one symbol", func(t *testing.T) {
		g := validGraph()
		g.Strategies[0].Symbols = nil
		assert.Error(t, g.Validate())
	})

	t.Run("empty graph rejected", func(t *testing.T) {
		g := &GraphConfig{Name: "empty"}
		assert.Error(t, g.Validate())
	})
}

func TestGraphPolicyValidation(t *testing.T) {
	t.Run("fixed weights must cover every strategy", func(t *testing.T) {
		g := validGraph()
		g.Policy = PolicyConfig{Type: PolicyFixed, Weights: map[string]float64{"momentum-1": 0.5}}
		assert.Error(t, g.Validate())
	})

	t.Run("fixed weights must not exceed one", func(t *testing.T) {
		g := validGraph()
		g.Policy = PolicyConfig{Type: PolicyFixed, Weights: map[string]float64{"momentum-1": 0.7, "mean-rev": 0.7}}
		assert.Error(t, g.Validate())
	})

	t.Run("weight for unknown strategy rejected", func(t *testing.T) {
		g := validGraph()
		g.Policy = PolicyConfig{Type: PolicyFixed, Weights: map[string]float64{"momentum-1": 0.5, "mean-rev": 0.3, "ghost": 0.1}}
		assert.Error(t, g.Validate())
	})

	t.Run("vol target requires positive target", func(t *testing.T) {
		g := validGraph()
		g.Policy = PolicyConfig{Type: PolicyVolTarget}
		assert.Error(t, g.Validate())

		g.Policy.TargetVol = 0.15
		assert.NoError(t, g.Validate())
	})

	t.Run("unknown policy type rejected", func(t *testing.T) {
		g := validGraph()
		g.Policy = PolicyConfig{Type: "kelly"}
		assert.Error(t, g.Validate())
	})
}

func TestSymbolUnion(t *testing.T) {
	g := validGraph()
	assert.Equal(t, []string{"AAPL", "MSFT"}, g.SymbolUnion())
}

func TestLoadGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	payload := `{
		"name": "paper-day",
		"strategies": [
			{"id": "s-1", "type": "manual", "symbols": ["SPY"], "max_position": 10, "max_notional": "5000"}
		],
		"policy": {"type": "equal_weight"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	g, err := LoadGraph(path)
	require.NoError(t, err)
	assert.Equal(t, "paper-day", g.Name)
	require.Len(t, g.Strategies, 1)
	assert.True(t, g.Strategies[0].MaxNotional.Equal(decimal.NewFromInt(5000)))

	_, err = LoadGraph(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
