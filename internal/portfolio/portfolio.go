// Package portfolio owns the authoritative position, P&L, and trade
// statistics state. All mutation happens under a single lock; disk writes
// happen outside it.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pilot/internal/events"
	"pilot/internal/logger"
	"pilot/internal/model"
	"pilot/internal/risk"
)

// Snapshot aggregates positions with account-level metrics.
type Snapshot struct {
	NetLiquidation   decimal.Decimal           `json:"net_liquidation"`
	TotalCash        decimal.Decimal           `json:"total_cash"`
	BuyingPower      decimal.Decimal           `json:"buying_power"`
	RealizedPnlToday decimal.Decimal           `json:"realized_pnl_today"`
	Positions        map[string]model.Position `json:"positions"`
}

// TradeStats accumulates fill counts and traded volume.
type TradeStats struct {
	Fills      int64 `json:"fills"`
	BuyVolume  int64 `json:"buy_volume"`
	SellVolume int64 `json:"sell_volume"`
}

// State tracks the portfolio. Realized P&L uses cash-flow accounting: a SELL
// adds notional, a BUY subtracts it. That is intentional for a paper-trading
// control plane; it is not matched-lot cost basis.
type State struct {
	mu sync.Mutex

	snapshot     Snapshot
	stats        TradeStats
	realizedPnl  decimal.Decimal
	symbolPnl    map[string]decimal.Decimal
	symbolToday  map[string]decimal.Decimal
	maxDailyLoss decimal.Decimal
	lastTouch    string // calendar date of the last recorded activity, "2006-01-02"

	snapshotPath string
	now          func() time.Time
}

// New builds an empty portfolio with the given daily loss limit. When
// snapshotPath names an existing file, prior state is restored from it.
func New(maxDailyLoss decimal.Decimal, snapshotPath string) *State {
	s := &State{
		snapshot:     Snapshot{Positions: make(map[string]model.Position)},
		symbolPnl:    make(map[string]decimal.Decimal),
		symbolToday:  make(map[string]decimal.Decimal),
		maxDailyLoss: maxDailyLoss,
		snapshotPath: snapshotPath,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if snapshotPath != "" {
		if err := s.Load(); err != nil {
			logger.Warnf("portfolio: loading snapshot failed, starting empty: %v", err)
		}
	}
	return s
}

// SetClock overrides the time source; used by tests to force date rollovers.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// UpdateAccount overwrites account-level fields from a broker account
// summary (decimal strings keyed by tag name).
func (s *State) UpdateAccount(summary map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.NetLiquidation = parseDecimal(summary["NetLiquidation"])
	s.snapshot.TotalCash = parseDecimal(summary["TotalCashValue"])
	s.snapshot.BuyingPower = parseDecimal(summary["BuyingPower"])
}

// UpdatePositions fully replaces the position map, typically after
// reconciling with the broker.
func (s *State) UpdatePositions(positions []model.Position) {
	replaced := make(map[string]model.Position, len(positions))
	for _, pos := range positions {
		replaced[pos.Contract.Symbol] = pos
	}
	s.mu.Lock()
	s.snapshot.Positions = replaced
	s.mu.Unlock()
}

// RecordExecutionEvent folds a fill into trade statistics and realized P&L.
// The first execution on a new calendar day resets the daily counters before
// the fill is applied; cumulative figures are untouched.
func (s *State) RecordExecutionEvent(event events.ExecutionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()

	notional := event.Price.Mul(decimal.NewFromInt(event.Quantity))
	var delta decimal.Decimal
	switch event.Side {
	case model.SideSell:
		delta = notional.Sub(event.Commission)
		s.stats.SellVolume += event.Quantity
	default:
		delta = notional.Neg().Sub(event.Commission)
		s.stats.BuyVolume += event.Quantity
	}
	s.stats.Fills++

	symbol := event.Contract.Symbol
	s.snapshot.RealizedPnlToday = s.snapshot.RealizedPnlToday.Add(delta)
	s.realizedPnl = s.realizedPnl.Add(delta)
	s.symbolPnl[symbol] = s.symbolPnl[symbol].Add(delta)
	s.symbolToday[symbol] = s.symbolToday[symbol].Add(delta)
}

// CheckDailyLossLimit fails once today's realized P&L breaches the
// configured maximum daily loss. The date rollover is lazy: it happens on
// the first touch of a new calendar day, not on a timer.
func (s *State) CheckDailyLossLimit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	if s.maxDailyLoss.IsPositive() && s.snapshot.RealizedPnlToday.LessThanOrEqual(s.maxDailyLoss.Neg()) {
		return &risk.Violation{
			Limit: risk.LimitDailyLoss,
			Detail: fmt.Sprintf("daily loss limit reached: %s <= -%s",
				s.snapshot.RealizedPnlToday, s.maxDailyLoss),
		}
	}
	return nil
}

// Snapshot returns a deep copy of the current snapshot.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copySnapshotLocked()
}

// Stats returns a copy of the trade statistics.
func (s *State) Stats() TradeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RealizedPnl returns the cumulative realized P&L across all days.
func (s *State) RealizedPnl() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realizedPnl
}

// SymbolDailyPnl returns today's realized P&L for one symbol.
func (s *State) SymbolDailyPnl(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	return s.symbolToday[symbol]
}

// PositionQuantity returns the signed held quantity for symbol, zero when flat.
func (s *State) PositionQuantity(symbol string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Positions[symbol].Quantity
}

// PositionMarketValue returns the current market value for symbol, zero when flat.
func (s *State) PositionMarketValue(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Positions[symbol].MarketValue
}

func (s *State) rolloverLocked() {
	today := s.now().Format("2006-01-02")
	if s.lastTouch == today {
		return
	}
	if s.lastTouch != "" {
		s.snapshot.RealizedPnlToday = decimal.Zero
		s.symbolToday = make(map[string]decimal.Decimal)
		logger.Infof("portfolio: daily P&L reset for %s", today)
	}
	s.lastTouch = today
}

func (s *State) copySnapshotLocked() Snapshot {
	cp := s.snapshot
	cp.Positions = make(map[string]model.Position, len(s.snapshot.Positions))
	for symbol, pos := range s.snapshot.Positions {
		cp.Positions[symbol] = pos
	}
	return cp
}

func parseDecimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		logger.Warnf("portfolio: skipping unparsable account value %q: %v", value, err)
		return decimal.Zero
	}
	return d
}
