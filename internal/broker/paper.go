package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pilot/internal/bus"
	"pilot/internal/events"
	"pilot/internal/model"
	"pilot/internal/risk"
)

// PaperBroker simulates immediate fills at the order's resolved price. It
// keeps a signed position book and publishes the same order-status and
// execution events a live broker connection would.
type PaperBroker struct {
	mu        sync.Mutex
	bus       *bus.Bus
	fees      *risk.FeeConfig
	nextID    int64
	positions map[string]*model.Position
	working   map[int64]model.OrderRequest
	cancelled map[int64]bool
	now       func() time.Time
}

func NewPaperBroker(eventBus *bus.Bus) *PaperBroker {
	return &PaperBroker{
		bus:       eventBus,
		nextID:    1,
		positions: make(map[string]*model.Position),
		working:   make(map[int64]model.OrderRequest),
		cancelled: make(map[int64]bool),
		now:       time.Now,
	}
}

// WithFees makes fills carry an estimated commission instead of zero.
func (b *PaperBroker) WithFees(fees risk.FeeConfig) *PaperBroker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fees = &fees
	return b
}

// SetClock overrides the fill timestamp source.
func (b *PaperBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *PaperBroker) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return model.OrderResult{}, err
	}
	if err := req.Validate(); err != nil {
		return model.OrderResult{}, err
	}
	price := req.ResolvePrice()
	if !price.IsPositive() {
		return model.OrderResult{}, fmt.Errorf("broker: cannot fill %s without a price", req.Contract.Symbol)
	}

	b.mu.Lock()
	orderID := b.nextID
	b.nextID++

	// Protective orders rest on the book instead of filling. Live stop
	// handling belongs to whoever placed them.
	if req.OrderType == model.OrderTypeStop || req.OrderType == model.OrderTypeStopLimit {
		b.working[orderID] = req
		ts := b.now().UTC()
		b.mu.Unlock()
		result := model.OrderResult{
			OrderID:   orderID,
			Contract:  req.Contract,
			Side:      req.Side,
			Status:    model.StatusSubmitted,
			Timestamp: ts,
		}
		if b.bus != nil {
			b.bus.Publish(bus.TopicOrderStatus, events.OrderStatusEvent{
				OrderID:   orderID,
				Contract:  req.Contract,
				Side:      req.Side,
				Status:    model.StatusSubmitted,
				Remaining: req.Quantity,
				Timestamp: ts,
			})
		}
		return result, nil
	}

	commission := decimal.Zero
	if b.fees != nil {
		commission, _ = b.fees.EstimateCosts(req.Contract, req.Quantity, price)
	}
	b.applyFillLocked(req, price)
	ts := b.now().UTC()
	b.mu.Unlock()

	result := model.OrderResult{
		OrderID:      orderID,
		Contract:     req.Contract,
		Side:         req.Side,
		Status:       model.StatusFilled,
		FilledQty:    req.Quantity,
		AvgFillPrice: price,
		Commission:   commission,
		Timestamp:    ts,
	}
	b.publish(result)
	return result, nil
}

func (b *PaperBroker) applyFillLocked(req model.OrderRequest, price decimal.Decimal) {
	symbol := req.Contract.Symbol
	pos, ok := b.positions[symbol]
	if !ok {
		pos = &model.Position{Contract: req.Contract}
		b.positions[symbol] = pos
	}
	delta := req.Quantity
	if req.Side == model.SideSell {
		delta = -req.Quantity
	}
	prev := pos.Quantity
	pos.Quantity += delta
	if pos.Quantity == 0 {
		delete(b.positions, symbol)
		return
	}
	// Average cost only moves when the fill grows the position; a flip
	// restarts the basis at the fill price.
	switch {
	case prev == 0 || (prev > 0) != (pos.Quantity > 0):
		pos.AvgCost = price
	case absInt64(pos.Quantity) > absInt64(prev):
		prevCost := pos.AvgCost.Mul(decimal.NewFromInt(absInt64(prev)))
		addCost := price.Mul(decimal.NewFromInt(absInt64(delta)))
		pos.AvgCost = prevCost.Add(addCost).Div(decimal.NewFromInt(absInt64(pos.Quantity)))
	}
	pos.MarketValue = price.Mul(decimal.NewFromInt(pos.Quantity))
}

func (b *PaperBroker) publish(result model.OrderResult) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(bus.TopicOrderStatus, events.OrderStatusEvent{
		OrderID:      result.OrderID,
		Contract:     result.Contract,
		Side:         result.Side,
		Status:       result.Status,
		Filled:       result.FilledQty,
		AvgFillPrice: result.AvgFillPrice,
		Timestamp:    result.Timestamp,
	})
	b.bus.Publish(bus.TopicExecution, events.ExecutionEvent{
		OrderID:    result.OrderID,
		Contract:   result.Contract,
		Side:       result.Side,
		Quantity:   result.FilledQty,
		Price:      result.AvgFillPrice,
		Commission: result.Commission,
		Timestamp:  result.Timestamp,
	})
}

func (b *PaperBroker) GetPositions(ctx context.Context) ([]model.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// CancelOrder records the cancellation and publishes a terminal status.
// Paper fills are immediate, so this only matters for synthetic order IDs
// registered by protective-order managers.
func (b *PaperBroker) CancelOrder(ctx context.Context, orderID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.cancelled[orderID] {
		b.mu.Unlock()
		return nil
	}
	b.cancelled[orderID] = true
	delete(b.working, orderID)
	ts := b.now().UTC()
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Publish(bus.TopicOrderStatus, events.OrderStatusEvent{
			OrderID:   orderID,
			Status:    model.StatusCancelled,
			Timestamp: ts,
		})
	}
	return nil
}

// ModifyOrder moves the trigger price of a resting stop order.
func (b *PaperBroker) ModifyOrder(ctx context.Context, orderID int64, stopPrice decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.working[orderID]
	if !ok {
		return fmt.Errorf("broker: order %d is not working", orderID)
	}
	req.StopPrice = stopPrice
	b.working[orderID] = req
	return nil
}

// WorkingOrder reports a resting order's current request, for inspection.
func (b *PaperBroker) WorkingOrder(orderID int64) (model.OrderRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.working[orderID]
	return req, ok
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
