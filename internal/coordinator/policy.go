package coordinator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Envelope is the sizing limit one strategy holds for one symbol. Zero
// fields mean uncapped. Envelopes are computed once per run and never
// mutated afterwards.
type Envelope struct {
	MaxPosition int64
	MaxNotional decimal.Decimal
}

// AllocationPolicy turns a validated graph into per-(strategy, symbol)
// envelopes.
type AllocationPolicy interface {
	Prepare(graph *GraphConfig) error
	EnvelopeFor(strategyID, symbol string) (Envelope, bool)
}

type envelopeKey struct {
	strategyID string
	symbol     string
}

type envelopeTable map[envelopeKey]Envelope

func (t envelopeTable) lookup(strategyID, symbol string) (Envelope, bool) {
	env, ok := t[envelopeKey{strategyID, symbol}]
	return env, ok
}

// EqualWeightPolicy copies each node's configured caps verbatim.
type EqualWeightPolicy struct {
	envelopes envelopeTable
}

func (p *EqualWeightPolicy) Prepare(graph *GraphConfig) error {
	p.envelopes = scaleNodes(graph, func(NodeConfig) float64 { return 1.0 })
	return nil
}

func (p *EqualWeightPolicy) EnvelopeFor(strategyID, symbol string) (Envelope, bool) {
	return p.envelopes.lookup(strategyID, symbol)
}

// FixedWeightPolicy scales each node's caps by its configured weight.
type FixedWeightPolicy struct {
	weights   map[string]float64
	envelopes envelopeTable
}

func (p *FixedWeightPolicy) Prepare(graph *GraphConfig) error {
	p.weights = graph.Policy.Weights
	p.envelopes = scaleNodes(graph, func(node NodeConfig) float64 {
		return p.weights[node.ID]
	})
	return nil
}

func (p *FixedWeightPolicy) EnvelopeFor(strategyID, symbol string) (Envelope, bool) {
	return p.envelopes.lookup(strategyID, symbol)
}

// VolTargetPolicy shrinks a node's caps when its declared volatility
// exceeds the portfolio target. Nodes declare volatility through the
// "annualized_vol" param; nodes without it keep their full caps.
type VolTargetPolicy struct {
	target    float64
	envelopes envelopeTable
}

func (p *VolTargetPolicy) Prepare(graph *GraphConfig) error {
	p.target = graph.Policy.TargetVol
	p.envelopes = scaleNodes(graph, func(node NodeConfig) float64 {
		vol, ok := node.Params["annualized_vol"].(float64)
		if !ok || vol <= 0 || vol <= p.target {
			return 1.0
		}
		return p.target / vol
	})
	return nil
}

func (p *VolTargetPolicy) EnvelopeFor(strategyID, symbol string) (Envelope, bool) {
	return p.envelopes.lookup(strategyID, symbol)
}

func scaleNodes(graph *GraphConfig, weight func(NodeConfig) float64) envelopeTable {
	table := make(envelopeTable)
	for _, node := range graph.Strategies {
		w := weight(node)
		env := Envelope{
			MaxPosition: int64(float64(node.MaxPosition) * w),
			MaxNotional: node.MaxNotional.Mul(decimal.NewFromFloat(w)),
		}
		for _, symbol := range node.Symbols {
			table[envelopeKey{node.ID, symbol}] = env
		}
	}
	return table
}

// NewPolicy builds the policy declared by an already-validated graph.
func NewPolicy(cfg PolicyConfig) (AllocationPolicy, error) {
	switch cfg.Type {
	case "", PolicyEqualWeight:
		return &EqualWeightPolicy{}, nil
	case PolicyFixed:
		return &FixedWeightPolicy{}, nil
	case PolicyVolTarget:
		return &VolTargetPolicy{}, nil
	default:
		return nil, fmt.Errorf("coordinator: unknown policy type %q", cfg.Type)
	}
}
