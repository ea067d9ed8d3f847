package model

import "github.com/shopspring/decimal"

// Position is a held instrument. Quantity is signed: positive for long,
// negative for short. Monetary fields are fixed-point decimals and serialize
// as strings so persisted snapshots round-trip without precision loss.
type Position struct {
	Contract      SymbolContract  `json:"contract"`
	Quantity      int64           `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
}

func (p Position) IsLong() bool  { return p.Quantity > 0 }
func (p Position) IsShort() bool { return p.Quantity < 0 }
