package execution

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot/internal/broker"
	"pilot/internal/bus"
	"pilot/internal/events"
	"pilot/internal/model"
	"pilot/internal/telemetry"
)

type captureSink struct {
	mu     sync.Mutex
	events []events.DiagnosticEvent
}

func (s *captureSink) Emit(event events.DiagnosticEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.Message)
	}
	return out
}

func newTrailingFixture(t *testing.T, minInterval time.Duration) (*TrailingManager, *broker.PaperBroker, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	paper := broker.NewPaperBroker(nil)
	m, err := NewTrailingManager(paper, bus.New(), telemetry.NewReporter(sink),
		filepath.Join(t.TempDir(), "trailing.json"), minInterval)
	require.NoError(t, err)
	return m, paper, sink
}

func tick(symbol string, price string) events.MarketDataEvent {
	return events.MarketDataEvent{Symbol: symbol, Price: decimal.RequireFromString(price), Timestamp: time.Now()}
}

func longExit(trailAmount string) model.TrailingStopConfig {
	return model.TrailingStopConfig{
		Symbol:      "AAPL",
		Side:        model.SideSell,
		Quantity:    100,
		TrailAmount: decimal.RequireFromString(trailAmount),
	}
}

func TestCreateComputesInitialStop(t *testing.T) {
	m, paper, _ := newTrailingFixture(t, 0)

	id, err := m.Create(context.Background(), longExit("5"), decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, "AAPL_1", id)

	stop, err := m.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(145)))
	assert.True(t, stop.Activated, "no activation price means active immediately")

	working, ok := paper.WorkingOrder(stop.OrderID)
	require.True(t, ok)
	assert.True(t, working.StopPrice.Equal(decimal.NewFromInt(145)))
	assert.Equal(t, model.OrderTypeStop, working.OrderType)
}

func TestCreatePercentTrailShortExit(t *testing.T) {
	m, _, _ := newTrailingFixture(t, 0)

	cfg := model.TrailingStopConfig{
		Symbol:       "TSLA",
		Side:         model.SideBuy,
		Quantity:     50,
		TrailPercent: decimal.NewFromInt(10),
	}
	id, err := m.Create(context.Background(), cfg, decimal.NewFromInt(200))
	require.NoError(t, err)

	stop, err := m.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(220)),
		"buy stop trails above the price, got %s", stop.CurrentStop)
}

func TestStopNeverWidens(t *testing.T) {
	m, paper, _ := newTrailingFixture(t, 0)
	ctx := context.Background()

	id, err := m.Create(ctx, longExit("5"), decimal.NewFromInt(150))
	require.NoError(t, err)

	m.onTick(ctx, tick("AAPL", "155"))
	stop, err := m.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(150)), "tightened to 150")
	assert.True(t, stop.HighWaterMark.Equal(decimal.NewFromInt(155)))

	m.onTick(ctx, tick("AAPL", "140"))
	stop, err = m.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(150)), "adverse move never widens the stop")
	assert.True(t, stop.HighWaterMark.Equal(decimal.NewFromInt(155)))

	m.onTick(ctx, tick("AAPL", "152"))
	stop, err = m.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(150)), "below the mark nothing moves")

	working, ok := paper.WorkingOrder(stop.OrderID)
	require.True(t, ok)
	assert.True(t, working.StopPrice.Equal(decimal.NewFromInt(150)), "broker order follows")
}

func TestActivationPriceGatesTrailing(t *testing.T) {
	m, _, _ := newTrailingFixture(t, 0)
	ctx := context.Background()

	cfg := longExit("5")
	cfg.ActivationPrice = decimal.NewFromInt(160)
	id, err := m.Create(ctx, cfg, decimal.NewFromInt(150))
	require.NoError(t, err)

	stop, err := m.Get(id)
	require.NoError(t, err)
	assert.False(t, stop.Activated)

	m.onTick(ctx, tick("AAPL", "155"))
	stop, err = m.Get(id)
	require.NoError(t, err)
	assert.False(t, stop.Activated, "below activation nothing happens")
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(145)))

	m.onTick(ctx, tick("AAPL", "161"))
	stop, err = m.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.Activated)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(156)), "trails immediately on the activating tick")
}

func TestRateLimitSuppressesBrokerUpdates(t *testing.T) {
	m, paper, sink := newTrailingFixture(t, 10*time.Second)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := base
	m.SetClock(func() time.Time { return now })

	id, err := m.Create(ctx, longExit("5"), decimal.NewFromInt(150))
	require.NoError(t, err)

	m.onTick(ctx, tick("AAPL", "155"))
	now = now.Add(time.Second)
	m.onTick(ctx, tick("AAPL", "156"))

	stop, err := m.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(151)), "in-memory state still tightens")

	working, ok := paper.WorkingOrder(stop.OrderID)
	require.True(t, ok)
	assert.True(t, working.StopPrice.Equal(decimal.NewFromInt(150)), "broker update suppressed inside the window")
	assert.Contains(t, sink.messages(), "trailing_stop.rate_limited")

	now = now.Add(15 * time.Second)
	m.onTick(ctx, tick("AAPL", "160"))
	working, ok = paper.WorkingOrder(stop.OrderID)
	require.True(t, ok)
	assert.True(t, working.StopPrice.Equal(decimal.NewFromInt(155)), "window cleared, update sent")
}

func TestSuppressedUpdateFlushesWhenWindowClears(t *testing.T) {
	m, paper, _ := newTrailingFixture(t, 10*time.Second)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := base
	m.SetClock(func() time.Time { return now })

	id, err := m.Create(ctx, longExit("5"), decimal.NewFromInt(150))
	require.NoError(t, err)

	m.onTick(ctx, tick("AAPL", "155"))
	now = now.Add(time.Second)
	m.onTick(ctx, tick("AAPL", "156"))

	stop, err := m.Get(id)
	require.NoError(t, err)
	working, ok := paper.WorkingOrder(stop.OrderID)
	require.True(t, ok)
	require.True(t, working.StopPrice.Equal(decimal.NewFromInt(150)), "update suppressed inside the window")

	// The flushing tick is adverse: it tightens nothing on its own.
	now = now.Add(15 * time.Second)
	m.onTick(ctx, tick("AAPL", "140"))

	stop, err = m.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(151)))
	working, ok = paper.WorkingOrder(stop.OrderID)
	require.True(t, ok)
	assert.True(t, working.StopPrice.Equal(decimal.NewFromInt(151)), "pending stop synced to the broker")

	// Nothing pending afterwards: a further quiet tick sends no update.
	now = now.Add(15 * time.Second)
	m.onTick(ctx, tick("AAPL", "139"))
	working, ok = paper.WorkingOrder(stop.OrderID)
	require.True(t, ok)
	assert.True(t, working.StopPrice.Equal(decimal.NewFromInt(151)))
}

func TestCancelUnknownStop(t *testing.T) {
	m, _, _ := newTrailingFixture(t, 0)
	err := m.Cancel(context.Background(), "AAPL_99")
	assert.ErrorIs(t, err, ErrStopNotFound)
}

func TestCancelRemovesStop(t *testing.T) {
	m, paper, _ := newTrailingFixture(t, 0)
	ctx := context.Background()

	id, err := m.Create(ctx, longExit("5"), decimal.NewFromInt(150))
	require.NoError(t, err)
	stop, err := m.Get(id)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, id))
	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrStopNotFound)

	_, ok := paper.WorkingOrder(stop.OrderID)
	assert.False(t, ok, "broker order cancelled")
}

func TestTerminalFillRemovesStop(t *testing.T) {
	m, _, _ := newTrailingFixture(t, 0)
	ctx := context.Background()

	id, err := m.Create(ctx, longExit("5"), decimal.NewFromInt(150))
	require.NoError(t, err)
	stop, err := m.Get(id)
	require.NoError(t, err)

	m.onTerminal(stop.OrderID, model.StatusFilled)
	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrStopNotFound)

	m.onTick(ctx, tick("AAPL", "200"))
	assert.Empty(t, m.Active())
}

func TestTrailingStateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trailing.json")
	paper := broker.NewPaperBroker(nil)
	ctx := context.Background()

	m, err := NewTrailingManager(paper, bus.New(), nil, path, 0)
	require.NoError(t, err)
	id, err := m.Create(ctx, longExit("5"), decimal.NewFromInt(150))
	require.NoError(t, err)
	m.onTick(ctx, tick("AAPL", "155"))

	restored, err := NewTrailingManager(paper, bus.New(), nil, path, 0)
	require.NoError(t, err)
	stop, err := restored.Get(id)
	require.NoError(t, err)
	assert.True(t, stop.CurrentStop.Equal(decimal.NewFromInt(150)))
	assert.True(t, stop.HighWaterMark.Equal(decimal.NewFromInt(155)))
	assert.True(t, stop.Activated)
}
