package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"pilot/internal/broker"
	"pilot/internal/model"
	"pilot/internal/safety"
)

// ErrTradingHalted rejects orders while the kill switch is engaged.
var ErrTradingHalted = fmt.Errorf("trading halted by kill switch")

// haltingBroker blocks new orders while the kill switch is engaged.
// Cancels and stop modifications still pass through so protective orders
// can be unwound during a halt.
type haltingBroker struct {
	inner      broker.Broker
	killSwitch *safety.KillSwitch
}

func (h *haltingBroker) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if h.killSwitch.Engaged() {
		return model.OrderResult{}, fmt.Errorf("%w: rejected %s %d %s", ErrTradingHalted, req.Side, req.Quantity, req.Contract.Symbol)
	}
	return h.inner.PlaceOrder(ctx, req)
}

func (h *haltingBroker) GetPositions(ctx context.Context) ([]model.Position, error) {
	return h.inner.GetPositions(ctx)
}

func (h *haltingBroker) CancelOrder(ctx context.Context, orderID int64) error {
	canceller, ok := h.inner.(broker.OrderCanceller)
	if !ok {
		return fmt.Errorf("broker does not support cancel")
	}
	return canceller.CancelOrder(ctx, orderID)
}

func (h *haltingBroker) ModifyOrder(ctx context.Context, orderID int64, stopPrice decimal.Decimal) error {
	modifier, ok := h.inner.(interface {
		ModifyOrder(ctx context.Context, orderID int64, stopPrice decimal.Decimal) error
	})
	if !ok {
		return fmt.Errorf("broker does not support modify")
	}
	return modifier.ModifyOrder(ctx, orderID, stopPrice)
}
