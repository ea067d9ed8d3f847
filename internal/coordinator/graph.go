// Package coordinator runs a declarative graph of strategies against one
// shared broker, sizing every strategy through a capital envelope.
package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/shopspring/decimal"
)

const (
	PolicyEqualWeight = "equal_weight"
	PolicyFixed       = "fixed"
	PolicyVolTarget   = "vol_target"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// NodeConfig declares one strategy instance and its per-symbol caps.
type NodeConfig struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Symbols     []string        `json:"symbols"`
	Params      map[string]any  `json:"params,omitempty"`
	MaxPosition int64           `json:"max_position"`
	MaxNotional decimal.Decimal `json:"max_notional"`
	WarmupBars  int             `json:"warmup_bars,omitempty"`
}

func (n NodeConfig) validate() error {
	if !slugPattern.MatchString(n.ID) {
		return fmt.Errorf("coordinator: strategy id %q is not a lowercase slug", n.ID)
	}
	if n.Type == "" {
		return fmt.Errorf("coordinator: strategy %q has no type", n.ID)
	}
	if len(n.Symbols) == 0 {
		return fmt.Errorf("coordinator: strategy %q has no symbols", n.ID)
	}
	if n.MaxPosition < 0 {
		return fmt.Errorf("coordinator: strategy %q max_position must not be negative", n.ID)
	}
	if n.MaxNotional.IsNegative() {
		return fmt.Errorf("coordinator: strategy %q max_notional must not be negative", n.ID)
	}
	if n.WarmupBars < 0 {
		return fmt.Errorf("coordinator: strategy %q warmup_bars must not be negative", n.ID)
	}
	return nil
}

// PolicyConfig selects and parameterizes the capital allocation policy.
type PolicyConfig struct {
	Type      string             `json:"type"`
	Weights   map[string]float64 `json:"weights,omitempty"`
	TargetVol float64            `json:"target_vol,omitempty"`
}

// GraphConfig is the full declarative run description.
type GraphConfig struct {
	Name       string         `json:"name"`
	Strategies []NodeConfig   `json:"strategies"`
	Policy     PolicyConfig   `json:"policy"`
	Settings   map[string]any `json:"settings,omitempty"`
}

// LoadGraph reads and validates a graph file.
func LoadGraph(path string) (*GraphConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coordinator: read graph: %w", err)
	}
	var graph GraphConfig
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("coordinator: parse graph: %w", err)
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return &graph, nil
}

func (g *GraphConfig) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("coordinator: graph has no name")
	}
	if len(g.Strategies) == 0 {
		return fmt.Errorf("coordinator: graph %q has no strategies", g.Name)
	}
	seen := make(map[string]bool, len(g.Strategies))
	for _, node := range g.Strategies {
		if err := node.validate(); err != nil {
			return err
		}
		if seen[node.ID] {
			return fmt.Errorf("coordinator: duplicate strategy id %q", node.ID)
		}
		seen[node.ID] = true
	}
	return g.validatePolicy(seen)
}

func (g *GraphConfig) validatePolicy(ids map[string]bool) error {
	switch g.Policy.Type {
	case "", PolicyEqualWeight:
		return nil
	case PolicyFixed:
		total := 0.0
		for id, weight := range g.Policy.Weights {
			if !ids[id] {
				return fmt.Errorf("coordinator: policy weight for unknown strategy %q", id)
			}
			if weight <= 0 {
				return fmt.Errorf("coordinator: policy weight for %q must be positive", id)
			}
			total += weight
		}
		for id := range ids {
			if _, ok := g.Policy.Weights[id]; !ok {
				return fmt.Errorf("coordinator: fixed policy missing weight for strategy %q", id)
			}
		}
		if total > 1.0 {
			return fmt.Errorf("coordinator: fixed policy weights sum to %.4f, must not exceed 1", total)
		}
		return nil
	case PolicyVolTarget:
		if g.Policy.TargetVol <= 0 {
			return fmt.Errorf("coordinator: vol_target policy requires a positive target_vol")
		}
		return nil
	default:
		return fmt.Errorf("coordinator: unknown policy type %q", g.Policy.Type)
	}
}

// SymbolUnion returns every symbol any strategy trades, deduplicated and
// in first-seen order.
func (g *GraphConfig) SymbolUnion() []string {
	seen := make(map[string]bool)
	var out []string
	for _, node := range g.Strategies {
		for _, symbol := range node.Symbols {
			if !seen[symbol] {
				seen[symbol] = true
				out = append(out, symbol)
			}
		}
	}
	return out
}
