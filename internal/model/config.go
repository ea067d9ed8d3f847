package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TrailingStopConfig describes a trailing stop attached to a position.
// Side is the stop order's side: SELL exits a long, BUY exits a short.
// Exactly one of TrailAmount and TrailPercent must be set.
type TrailingStopConfig struct {
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Quantity        int64           `json:"quantity"`
	TrailAmount     decimal.Decimal `json:"trail_amount,omitempty"`
	TrailPercent    decimal.Decimal `json:"trail_percent,omitempty"`
	ActivationPrice decimal.Decimal `json:"activation_price,omitempty"`
}

// NewTrailingStopConfig validates and normalizes a trailing stop config.
func NewTrailingStopConfig(cfg TrailingStopConfig) (TrailingStopConfig, error) {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return cfg, fmt.Errorf("trailing stop: symbol cannot be empty")
	}
	if cfg.Side != SideBuy && cfg.Side != SideSell {
		return cfg, fmt.Errorf("trailing stop: invalid side %q", cfg.Side)
	}
	if cfg.Quantity <= 0 {
		return cfg, fmt.Errorf("trailing stop: quantity must be positive, got %d", cfg.Quantity)
	}
	hasAmount := cfg.TrailAmount.IsPositive()
	hasPercent := cfg.TrailPercent.IsPositive()
	if cfg.TrailAmount.IsNegative() || cfg.TrailPercent.IsNegative() {
		return cfg, fmt.Errorf("trailing stop: trail values must be positive")
	}
	if hasAmount == hasPercent {
		return cfg, fmt.Errorf("trailing stop: exactly one of trail_amount or trail_percent must be set")
	}
	if hasPercent && cfg.TrailPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return cfg, fmt.Errorf("trailing stop: trail_percent must be below 100, got %s", cfg.TrailPercent)
	}
	return cfg, nil
}

// NewGroupID issues a unique identifier for an OCO pair.
func NewGroupID() string {
	return "oco-" + uuid.NewString()
}

// OCOOrderRequest pairs two orders where a fill on either cancels the other.
type OCOOrderRequest struct {
	GroupID string       `json:"group_id"`
	OrderA  OrderRequest `json:"order_a"`
	OrderB  OrderRequest `json:"order_b"`
}

// Validate enforces the pair invariants: same symbol, same quantity,
// non-empty group id, both legs individually valid.
func (r OCOOrderRequest) Validate() error {
	if strings.TrimSpace(r.GroupID) == "" {
		return fmt.Errorf("oco request: group_id cannot be empty")
	}
	if err := r.OrderA.Validate(); err != nil {
		return fmt.Errorf("oco request: order_a: %w", err)
	}
	if err := r.OrderB.Validate(); err != nil {
		return fmt.Errorf("oco request: order_b: %w", err)
	}
	if r.OrderA.Contract.Symbol != r.OrderB.Contract.Symbol {
		return fmt.Errorf("oco request: both orders must be for the same symbol (%s vs %s)",
			r.OrderA.Contract.Symbol, r.OrderB.Contract.Symbol)
	}
	if r.OrderA.Quantity != r.OrderB.Quantity {
		return fmt.Errorf("oco request: both orders must have the same quantity (%d vs %d)",
			r.OrderA.Quantity, r.OrderB.Quantity)
	}
	return nil
}
