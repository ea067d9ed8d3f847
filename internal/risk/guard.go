// Package risk implements the pre-trade validation chain: daily loss,
// per-symbol caps, correlation exposure, and fee-aware global exposure.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"pilot/internal/model"
)

// PortfolioView is the read surface the guard needs from the portfolio.
type PortfolioView interface {
	CheckDailyLossLimit() error
	SymbolDailyPnl(symbol string) decimal.Decimal
	PositionQuantity(symbol string) int64
	PositionMarketValue(symbol string) decimal.Decimal
}

// CorrelationGuard caps the combined notional held in symbols highly
// correlated to the one being traded.
type CorrelationGuard struct {
	matrix      *CorrelationMatrix
	maxExposure decimal.Decimal
	threshold   float64
}

// NewCorrelationGuard validates its parameters once at construction:
// threshold in (0, 1], positive exposure cap.
func NewCorrelationGuard(matrix *CorrelationMatrix, maxExposure decimal.Decimal, threshold float64) (*CorrelationGuard, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("risk: correlation threshold must be within (0, 1], got %v", threshold)
	}
	if !maxExposure.IsPositive() {
		return nil, fmt.Errorf("risk: max correlated exposure must be positive, got %s", maxExposure)
	}
	return &CorrelationGuard{matrix: matrix, maxExposure: maxExposure, threshold: threshold}, nil
}

// Validate rejects the order when it would push correlated exposure above
// the cap. Orders that shrink the net correlated exposure are always
// allowed, even while already above the cap.
func (g *CorrelationGuard) Validate(portfolio PortfolioView, contract model.SymbolContract, side model.OrderSide, quantity int64, price decimal.Decimal) error {
	if quantity <= 0 || !price.IsPositive() {
		return nil
	}
	symbol := contract.Symbol
	correlated := g.matrix.Correlated(symbol, g.threshold)
	if len(correlated) == 0 {
		return nil
	}

	currentQty := portfolio.PositionQuantity(symbol)
	projectedQty := currentQty + quantity
	if side == model.SideSell {
		projectedQty = currentQty - quantity
	}

	othersExposure := decimal.Zero
	for _, other := range correlated {
		othersExposure = othersExposure.Add(portfolio.PositionMarketValue(other).Abs())
	}
	current := othersExposure.Add(price.Mul(decimal.NewFromInt(absInt64(currentQty))))
	projected := othersExposure.Add(price.Mul(decimal.NewFromInt(absInt64(projectedQty))))

	if projected.GreaterThan(g.maxExposure) && projected.GreaterThanOrEqual(current) {
		return &Violation{
			Limit:  LimitCorrelationExposure,
			Symbol: symbol,
			Detail: fmt.Sprintf("correlated exposure %s exceeds cap %s", projected, g.maxExposure),
		}
	}
	return nil
}

// Guard chains every pre-trade check, failing fast on the first violation.
type Guard struct {
	portfolio   PortfolioView
	maxExposure decimal.Decimal
	limits      *SymbolLimitRegistry
	correlation *CorrelationGuard
	fees        *FeeConfig
}

// Option configures optional guard collaborators.
type Option func(*Guard)

func WithSymbolLimits(registry *SymbolLimitRegistry) Option {
	return func(g *Guard) { g.limits = registry }
}

func WithCorrelationGuard(guard *CorrelationGuard) Option {
	return func(g *Guard) { g.correlation = guard }
}

// WithFeeConfig inflated the global exposure check by estimated commission
// and slippage.
func WithFeeConfig(fees FeeConfig) Option {
	return func(g *Guard) { g.fees = &fees }
}

func NewGuard(portfolio PortfolioView, maxExposure decimal.Decimal, opts ...Option) *Guard {
	g := &Guard{portfolio: portfolio, maxExposure: maxExposure}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateOrder runs the checks in order and returns the first *Violation:
// daily loss, per-symbol position size, per-symbol order notional,
// per-symbol daily loss, correlated exposure, global exposure. A
// non-positive price short-circuits the notional-based checks since there
// is no meaningful notional to bound.
func (g *Guard) ValidateOrder(contract model.SymbolContract, side model.OrderSide, quantity int64, price decimal.Decimal) error {
	if err := g.portfolio.CheckDailyLossLimit(); err != nil {
		return err
	}

	symbol := contract.Symbol
	var limit *SymbolLimit
	if g.limits != nil {
		limit = g.limits.Limit(symbol)
	}

	if limit != nil && limit.MaxPositionSize > 0 {
		current := g.portfolio.PositionQuantity(symbol)
		projected := current + quantity
		if side == model.SideSell {
			projected = current - quantity
		}
		if absInt64(projected) > limit.MaxPositionSize {
			return &Violation{
				Limit:  LimitPositionSize,
				Symbol: symbol,
				Detail: fmt.Sprintf("projected position %d exceeds per-symbol limit %d", projected, limit.MaxPositionSize),
			}
		}
	}

	if !price.IsPositive() {
		return nil
	}
	notional := price.Mul(decimal.NewFromInt(quantity))

	if limit != nil && limit.MaxOrderExposure.IsPositive() && notional.GreaterThan(limit.MaxOrderExposure) {
		return &Violation{
			Limit:  LimitOrderNotional,
			Symbol: symbol,
			Detail: fmt.Sprintf("order notional %s exceeds per-symbol limit %s", notional, limit.MaxOrderExposure),
		}
	}

	if limit != nil && limit.MaxDailyLoss.IsPositive() {
		pnl := g.portfolio.SymbolDailyPnl(symbol)
		if pnl.LessThanOrEqual(limit.MaxDailyLoss.Neg()) {
			return &Violation{
				Limit:  LimitSymbolDailyLoss,
				Symbol: symbol,
				Detail: fmt.Sprintf("daily loss limit reached: %s <= -%s", pnl, limit.MaxDailyLoss),
			}
		}
	}

	if g.correlation != nil {
		if err := g.correlation.Validate(g.portfolio, contract, side, quantity, price); err != nil {
			return err
		}
	}

	exposure := notional
	if g.fees != nil {
		exposure = exposure.Add(g.fees.TotalCost(contract, quantity, price))
	}
	if g.maxExposure.IsPositive() && exposure.GreaterThan(g.maxExposure) {
		return &Violation{
			Limit:  LimitGlobalExposure,
			Symbol: symbol,
			Detail: fmt.Sprintf("order exposure %s exceeds max exposure %s", exposure, g.maxExposure),
		}
	}
	return nil
}
