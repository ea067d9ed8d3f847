// Package marketdata fans ticks out onto the bus and tracks which
// symbols have consumers.
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pilot/internal/bus"
	"pilot/internal/events"
	"pilot/internal/logger"
	"pilot/internal/telemetry"
)

// Feed is a push-driven market data source. Subscriptions are
// refcounted; ticks for symbols nobody subscribed are dropped. Every
// published tick also emits a refresh heartbeat so the alert router can
// detect a stalled feed.
type Feed struct {
	mu       sync.Mutex
	bus      *bus.Bus
	reporter *telemetry.Reporter
	refs     map[string]int
	now      func() time.Time
}

func NewFeed(eventBus *bus.Bus, reporter *telemetry.Reporter) *Feed {
	return &Feed{
		bus:      eventBus,
		reporter: reporter,
		refs:     make(map[string]int),
		now:      time.Now,
	}
}

func (f *Feed) SubscribeMarketData(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[symbol]++
	if f.refs[symbol] == 1 {
		logger.Debugf("market data subscribed: %s", symbol)
	}
	return nil
}

func (f *Feed) UnsubscribeMarketData(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[symbol] <= 1 {
		delete(f.refs, symbol)
		logger.Debugf("market data released: %s", symbol)
		return nil
	}
	f.refs[symbol]--
	return nil
}

// Push publishes one tick for a subscribed symbol. Returns false when the
// symbol has no consumers.
func (f *Feed) Push(symbol string, price decimal.Decimal) bool {
	f.mu.Lock()
	subscribed := f.refs[symbol] > 0
	ts := f.now().UTC()
	f.mu.Unlock()
	if !subscribed {
		return false
	}
	f.bus.Publish(bus.TopicMarketData, events.MarketDataEvent{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
	})
	if f.reporter != nil {
		f.reporter.Info("market_data.screen_refresh", map[string]any{"symbol": symbol})
	}
	return true
}

// Subscribed reports whether a symbol currently has consumers.
func (f *Feed) Subscribed(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[symbol] > 0
}
