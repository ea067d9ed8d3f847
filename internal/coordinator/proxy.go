package coordinator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"pilot/internal/broker"
	"pilot/internal/logger"
	"pilot/internal/model"
	"pilot/internal/telemetry"
)

// CapitalAllocationError reports an order whose envelope left nothing to
// submit. Such orders are rejected outright, never forwarded at size zero.
type CapitalAllocationError struct {
	StrategyID string
	Symbol     string
	Requested  int64
	Reason     string
}

func (e *CapitalAllocationError) Error() string {
	return fmt.Sprintf("capital allocation rejected %s order for %d %s: %s",
		e.StrategyID, e.Requested, e.Symbol, e.Reason)
}

// OrderValidator is the pre-trade check the proxy runs after clipping.
type OrderValidator interface {
	ValidateOrder(contract model.SymbolContract, side model.OrderSide, quantity int64, price decimal.Decimal) error
}

// BrokerProxy is the only broker surface a strategy ever sees. Every order
// is clipped to the strategy's envelope and validated before reaching the
// shared broker.
type BrokerProxy struct {
	strategyID string
	policy     AllocationPolicy
	guard      OrderValidator
	broker     broker.Broker
	reporter   *telemetry.Reporter
}

func NewBrokerProxy(strategyID string, policy AllocationPolicy, guard OrderValidator, shared broker.Broker, reporter *telemetry.Reporter) *BrokerProxy {
	return &BrokerProxy{
		strategyID: strategyID,
		policy:     policy,
		guard:      guard,
		broker:     shared,
		reporter:   reporter,
	}
}

func (p *BrokerProxy) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	symbol := req.Contract.Symbol
	allowed := req.Quantity

	env, ok := p.policy.EnvelopeFor(p.strategyID, symbol)
	if ok {
		if env.MaxPosition > 0 && allowed > env.MaxPosition {
			allowed = env.MaxPosition
		}
		if env.MaxNotional.IsPositive() {
			price := req.ResolvePrice()
			if price.IsPositive() {
				notionalCap := env.MaxNotional.Div(price).IntPart()
				if allowed > notionalCap {
					allowed = notionalCap
				}
			}
		}
	}

	if allowed <= 0 {
		err := &CapitalAllocationError{
			StrategyID: p.strategyID,
			Symbol:     symbol,
			Requested:  req.Quantity,
			Reason:     "envelope clipped quantity to zero",
		}
		p.emit("coordinator.order_allocation", map[string]any{
			"strategy_id": p.strategyID,
			"symbol":      symbol,
			"requested":   req.Quantity,
			"allowed":     int64(0),
			"rejected":    true,
		})
		return model.OrderResult{}, err
	}

	if allowed < req.Quantity {
		logger.Warnf("clipped %s order for %s from %d to %d", p.strategyID, symbol, req.Quantity, allowed)
		p.emit("coordinator.order_clipped", map[string]any{
			"strategy_id": p.strategyID,
			"symbol":      symbol,
			"requested":   req.Quantity,
			"allowed":     allowed,
		})
		req = req.WithQuantity(allowed)
	}

	if p.guard != nil {
		if err := p.guard.ValidateOrder(req.Contract, req.Side, req.Quantity, req.ResolvePrice()); err != nil {
			return model.OrderResult{}, err
		}
	}

	result, err := p.broker.PlaceOrder(ctx, req)
	if err != nil {
		return model.OrderResult{}, err
	}
	p.emit("coordinator.order_allocation", map[string]any{
		"strategy_id": p.strategyID,
		"symbol":      symbol,
		"requested":   req.Quantity,
		"allowed":     allowed,
		"order_id":    result.OrderID,
	})
	return result, nil
}

func (p *BrokerProxy) GetPositions(ctx context.Context) ([]model.Position, error) {
	return p.broker.GetPositions(ctx)
}

func (p *BrokerProxy) emit(message string, fields map[string]any) {
	if p.reporter == nil {
		return
	}
	p.reporter.Info(message, fields)
}
