// Package execution manages protective order state: trailing stops and
// one-cancels-other pairs.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pilot/internal/broker"
	"pilot/internal/bus"
	"pilot/internal/events"
	"pilot/internal/logger"
	"pilot/internal/model"
	"pilot/internal/telemetry"
)

// ErrStopNotFound is returned when an operation references an unknown
// trailing stop id.
var ErrStopNotFound = errors.New("execution: trailing stop not found")

// OrderModifier is implemented by brokers that can move a resting stop's
// trigger price in place.
type OrderModifier interface {
	ModifyOrder(ctx context.Context, orderID int64, stopPrice decimal.Decimal) error
}

// TrailingStop is the tracked state of one stop. CurrentStop only ever
// tightens: up for a long exit, down for a short exit.
type TrailingStop struct {
	StopID        string                   `json:"stop_id"`
	Config        model.TrailingStopConfig `json:"config"`
	OrderID       int64                    `json:"order_id"`
	CurrentStop   decimal.Decimal          `json:"current_stop_price"`
	HighWaterMark decimal.Decimal          `json:"high_water_mark"`
	Activated     bool                     `json:"activated"`
	LastUpdate    time.Time                `json:"last_update_time"`
}

type trailingDocument struct {
	Stops []*TrailingStop `json:"stops"`
}

// TrailingManager places and tightens trailing stop orders off market
// data ticks.
type TrailingManager struct {
	mu        sync.Mutex
	broker    broker.Broker
	bus       *bus.Bus
	reporter  *telemetry.Reporter
	statePath string

	stops            map[string]*TrailingStop
	bySymbol         map[string][]string
	lastBrokerUpdate map[string]time.Time
	pendingSync      map[string]bool
	minInterval      time.Duration
	now              func() time.Time

	marketSub *bus.Subscription
	statusSub *bus.Subscription
	wg        sync.WaitGroup
}

// NewTrailingManager loads persisted stops and prepares the manager.
// Start must be called before it reacts to ticks.
func NewTrailingManager(orderBroker broker.Broker, eventBus *bus.Bus, reporter *telemetry.Reporter, statePath string, minInterval time.Duration) (*TrailingManager, error) {
	m := &TrailingManager{
		broker:           orderBroker,
		bus:              eventBus,
		reporter:         reporter,
		statePath:        statePath,
		stops:            make(map[string]*TrailingStop),
		bySymbol:         make(map[string][]string),
		lastBrokerUpdate: make(map[string]time.Time),
		pendingSync:      make(map[string]bool),
		minInterval:      minInterval,
		now:              time.Now,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// SetClock overrides the time source for rate-limit windows.
func (m *TrailingManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Start subscribes to market data and order status and runs the tick
// loops until Stop.
func (m *TrailingManager) Start(ctx context.Context) {
	m.marketSub = m.bus.Subscribe(bus.TopicMarketData)
	m.statusSub = m.bus.Subscribe(bus.TopicOrderStatus)
	m.wg.Add(2)
	go m.marketLoop(ctx)
	go m.statusLoop(ctx)
}

// Stop releases the subscriptions and waits for both loops to drain.
func (m *TrailingManager) Stop() {
	if m.marketSub != nil {
		m.marketSub.Close()
	}
	if m.statusSub != nil {
		m.statusSub.Close()
	}
	m.wg.Wait()
}

func (m *TrailingManager) marketLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		payload, ok := m.marketSub.Next()
		if !ok {
			return
		}
		tick, ok := payload.(events.MarketDataEvent)
		if !ok {
			continue
		}
		m.onTick(ctx, tick)
	}
}

func (m *TrailingManager) statusLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		payload, ok := m.statusSub.Next()
		if !ok {
			return
		}
		status, ok := payload.(events.OrderStatusEvent)
		if !ok {
			continue
		}
		if status.Status == model.StatusFilled || status.Status == model.StatusCancelled {
			m.onTerminal(status.OrderID, status.Status)
		}
	}
}

// Create computes the initial stop from the trail config, places the stop
// order, and begins tracking. The returned id is SYMBOL_<orderID>.
func (m *TrailingManager) Create(ctx context.Context, cfg model.TrailingStopConfig, initialPrice decimal.Decimal) (string, error) {
	cfg, err := model.NewTrailingStopConfig(cfg)
	if err != nil {
		return "", err
	}
	if !initialPrice.IsPositive() {
		return "", fmt.Errorf("execution: initial price must be positive, got %s", initialPrice)
	}

	stopPrice := trailFrom(cfg, initialPrice)
	req := model.OrderRequest{
		Contract:  model.NewContract(cfg.Symbol),
		Side:      cfg.Side,
		Quantity:  cfg.Quantity,
		OrderType: model.OrderTypeStop,
		StopPrice: stopPrice,
	}
	result, err := m.broker.PlaceOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("execution: place trailing stop for %s: %w", cfg.Symbol, err)
	}

	activated := cfg.ActivationPrice.IsZero()
	stop := &TrailingStop{
		StopID:        fmt.Sprintf("%s_%d", cfg.Symbol, result.OrderID),
		Config:        cfg,
		OrderID:       result.OrderID,
		CurrentStop:   stopPrice,
		HighWaterMark: initialPrice,
		Activated:     activated,
		LastUpdate:    m.clock(),
	}

	m.mu.Lock()
	m.stops[stop.StopID] = stop
	m.bySymbol[cfg.Symbol] = append(m.bySymbol[cfg.Symbol], stop.StopID)
	doc := m.documentLocked()
	m.mu.Unlock()

	m.persist(doc)
	logger.Infof("trailing stop %s created at %s (trail from %s)", stop.StopID, stopPrice, initialPrice)
	return stop.StopID, nil
}

// Cancel cancels the underlying order and stops tracking.
func (m *TrailingManager) Cancel(ctx context.Context, stopID string) error {
	m.mu.Lock()
	stop, ok := m.stops[stopID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStopNotFound, stopID)
	}
	m.removeLocked(stop)
	doc := m.documentLocked()
	m.mu.Unlock()

	if canceller, ok := m.broker.(broker.OrderCanceller); ok {
		if err := canceller.CancelOrder(ctx, stop.OrderID); err != nil {
			logger.Errorf("cancel stop order %d: %v", stop.OrderID, err)
		}
	}
	m.persist(doc)
	logger.Infof("trailing stop %s cancelled", stopID)
	return nil
}

// Get returns a copy of a tracked stop.
func (m *TrailingManager) Get(stopID string) (TrailingStop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stop, ok := m.stops[stopID]
	if !ok {
		return TrailingStop{}, fmt.Errorf("%w: %s", ErrStopNotFound, stopID)
	}
	return *stop, nil
}

// Active returns every tracked stop.
func (m *TrailingManager) Active() []TrailingStop {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrailingStop, 0, len(m.stops))
	for _, stop := range m.stops {
		out = append(out, *stop)
	}
	return out
}

func (m *TrailingManager) onTick(ctx context.Context, tick events.MarketDataEvent) {
	m.mu.Lock()
	ids := m.bySymbol[tick.Symbol]
	if len(ids) == 0 {
		m.mu.Unlock()
		return
	}

	type brokerUpdate struct {
		orderID int64
		price   decimal.Decimal
	}
	var updates []brokerUpdate
	var rateLimited []string
	changed := false
	now := m.now()

	for _, id := range ids {
		stop, ok := m.stops[id]
		if !ok {
			continue
		}
		if !stop.Activated {
			if !crossedActivation(stop.Config, tick.Price) {
				continue
			}
			stop.Activated = true
			changed = true
			logger.Infof("trailing stop %s activated at %s", stop.StopID, tick.Price)
		}
		tightened := false
		if favorableMove(stop.Config.Side, tick.Price, stop.HighWaterMark) {
			stop.HighWaterMark = tick.Price
			changed = true
			candidate := trailFrom(stop.Config, stop.HighWaterMark)
			if strictlyBetter(stop.Config.Side, candidate, stop.CurrentStop) {
				stop.CurrentStop = candidate
				stop.LastUpdate = now
				tightened = true
			}
		}
		// A suppressed update is flushed on the first tick outside the
		// window, even when that tick does not tighten further.
		if !tightened && !m.pendingSync[stop.StopID] {
			continue
		}

		last, seen := m.lastBrokerUpdate[tick.Symbol]
		if seen && now.Sub(last) < m.minInterval {
			m.pendingSync[stop.StopID] = true
			if tightened {
				rateLimited = append(rateLimited, stop.StopID)
			}
			continue
		}
		m.lastBrokerUpdate[tick.Symbol] = now
		delete(m.pendingSync, stop.StopID)
		updates = append(updates, brokerUpdate{orderID: stop.OrderID, price: stop.CurrentStop})
	}

	var doc trailingDocument
	if changed {
		doc = m.documentLocked()
	}
	m.mu.Unlock()

	for _, id := range rateLimited {
		if m.reporter != nil {
			m.reporter.Warning("trailing_stop.rate_limited", map[string]any{
				"stop_id": id,
				"symbol":  tick.Symbol,
			})
		}
	}
	if modifier, ok := m.broker.(OrderModifier); ok {
		for _, u := range updates {
			if err := modifier.ModifyOrder(ctx, u.orderID, u.price); err != nil {
				logger.Errorf("modify stop order %d: %v", u.orderID, err)
			}
		}
	}
	if changed {
		m.persist(doc)
	}
}

func (m *TrailingManager) onTerminal(orderID int64, status model.OrderStatus) {
	m.mu.Lock()
	var removed *TrailingStop
	for _, stop := range m.stops {
		if stop.OrderID == orderID {
			removed = stop
			break
		}
	}
	if removed == nil {
		m.mu.Unlock()
		return
	}
	m.removeLocked(removed)
	doc := m.documentLocked()
	m.mu.Unlock()

	m.persist(doc)
	logger.Infof("trailing stop %s removed after %s", removed.StopID, status)
}

func (m *TrailingManager) removeLocked(stop *TrailingStop) {
	delete(m.stops, stop.StopID)
	delete(m.pendingSync, stop.StopID)
	ids := m.bySymbol[stop.Config.Symbol]
	for i, id := range ids {
		if id == stop.StopID {
			m.bySymbol[stop.Config.Symbol] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.bySymbol[stop.Config.Symbol]) == 0 {
		delete(m.bySymbol, stop.Config.Symbol)
	}
}

func (m *TrailingManager) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now()
}

func (m *TrailingManager) documentLocked() trailingDocument {
	doc := trailingDocument{Stops: make([]*TrailingStop, 0, len(m.stops))}
	for _, stop := range m.stops {
		copied := *stop
		doc.Stops = append(doc.Stops, &copied)
	}
	return doc
}

func (m *TrailingManager) persist(doc trailingDocument) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		logger.Errorf("encode trailing stop state: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0o755); err != nil {
		logger.Errorf("create state dir: %v", err)
		return
	}
	if err := os.WriteFile(m.statePath, data, 0o644); err != nil {
		logger.Errorf("write trailing stop state: %v", err)
	}
}

func (m *TrailingManager) load() error {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("execution: read trailing stop state: %w", err)
	}
	var doc trailingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("execution: parse trailing stop state: %w", err)
	}
	for _, stop := range doc.Stops {
		m.stops[stop.StopID] = stop
		m.bySymbol[stop.Config.Symbol] = append(m.bySymbol[stop.Config.Symbol], stop.StopID)
	}
	return nil
}

// trailFrom computes the stop implied by the trail config at a reference
// price: below it for a SELL stop, above for a BUY stop.
func trailFrom(cfg model.TrailingStopConfig, price decimal.Decimal) decimal.Decimal {
	offset := cfg.TrailAmount
	if cfg.TrailPercent.IsPositive() {
		offset = price.Mul(cfg.TrailPercent).Div(decimal.NewFromInt(100))
	}
	if cfg.Side == model.SideSell {
		return price.Sub(offset)
	}
	return price.Add(offset)
}

func crossedActivation(cfg model.TrailingStopConfig, price decimal.Decimal) bool {
	if cfg.ActivationPrice.IsZero() {
		return true
	}
	if cfg.Side == model.SideSell {
		return price.GreaterThanOrEqual(cfg.ActivationPrice)
	}
	return price.LessThanOrEqual(cfg.ActivationPrice)
}

func favorableMove(side model.OrderSide, price, mark decimal.Decimal) bool {
	if side == model.SideSell {
		return price.GreaterThan(mark)
	}
	return price.LessThan(mark)
}

func strictlyBetter(side model.OrderSide, candidate, current decimal.Decimal) bool {
	if side == model.SideSell {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}
