package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"pilot/internal/model"
)

// snapshotDocument is the on-disk shape. Monetary values serialize as decimal
// strings so a persist/load cycle is bit-identical.
type snapshotDocument struct {
	NetLiquidation   decimal.Decimal            `json:"net_liquidation"`
	TotalCash        decimal.Decimal            `json:"total_cash"`
	BuyingPower      decimal.Decimal            `json:"buying_power"`
	RealizedPnlToday decimal.Decimal            `json:"realized_pnl_today"`
	TradeStats       TradeStats                 `json:"trade_stats"`
	RealizedPnl      decimal.Decimal            `json:"realized_pnl"`
	SymbolPnl        map[string]decimal.Decimal `json:"symbol_pnl"`
	SymbolPnlToday   map[string]decimal.Decimal `json:"symbol_pnl_today,omitempty"`
	PnlDate          string                     `json:"pnl_date,omitempty"`
	Positions        map[string]model.Position  `json:"positions"`
}

// Persist writes the snapshot and derived statistics to the snapshot path.
// State is copied under the lock; the disk write happens outside it. A write
// failure is returned but leaves in-memory state authoritative; the next
// mutation's Persist retries (at-least-once durability).
func (s *State) Persist() error {
	if s.snapshotPath == "" {
		return nil
	}
	s.mu.Lock()
	doc := snapshotDocument{
		NetLiquidation:   s.snapshot.NetLiquidation,
		TotalCash:        s.snapshot.TotalCash,
		BuyingPower:      s.snapshot.BuyingPower,
		RealizedPnlToday: s.snapshot.RealizedPnlToday,
		TradeStats:       s.stats,
		RealizedPnl:      s.realizedPnl,
		SymbolPnl:        copyDecimalMap(s.symbolPnl),
		SymbolPnlToday:   copyDecimalMap(s.symbolToday),
		PnlDate:          s.lastTouch,
		Positions:        s.copySnapshotLocked().Positions,
	}
	s.mu.Unlock()

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("portfolio: marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("portfolio: create snapshot dir: %w", err)
	}
	if err := os.WriteFile(s.snapshotPath, payload, 0o644); err != nil {
		return fmt.Errorf("portfolio: write snapshot: %w", err)
	}
	return nil
}

// Load restores state from the snapshot path. A missing file is not an error.
func (s *State) Load() error {
	if s.snapshotPath == "" {
		return nil
	}
	payload, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("portfolio: read snapshot: %w", err)
	}
	var doc snapshotDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("portfolio: parse snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.NetLiquidation = doc.NetLiquidation
	s.snapshot.TotalCash = doc.TotalCash
	s.snapshot.BuyingPower = doc.BuyingPower
	s.snapshot.RealizedPnlToday = doc.RealizedPnlToday
	s.stats = doc.TradeStats
	s.realizedPnl = doc.RealizedPnl
	s.symbolPnl = doc.SymbolPnl
	if s.symbolPnl == nil {
		s.symbolPnl = make(map[string]decimal.Decimal)
	}
	s.symbolToday = doc.SymbolPnlToday
	if s.symbolToday == nil {
		s.symbolToday = make(map[string]decimal.Decimal)
	}
	s.lastTouch = doc.PnlDate
	s.snapshot.Positions = doc.Positions
	if s.snapshot.Positions == nil {
		s.snapshot.Positions = make(map[string]model.Position)
	}
	return nil
}

func copyDecimalMap(src map[string]decimal.Decimal) map[string]decimal.Decimal {
	dst := make(map[string]decimal.Decimal, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
