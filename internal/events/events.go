// Package events defines the payload shapes carried on the bus.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"pilot/internal/model"
)

// OrderStatusEvent is emitted when the broker reports an order state change.
type OrderStatusEvent struct {
	OrderID      int64                `json:"order_id"`
	Status       model.OrderStatus    `json:"status"`
	Contract     model.SymbolContract `json:"contract"`
	Side         model.OrderSide      `json:"side"`
	Filled       int64                `json:"filled"`
	Remaining    int64                `json:"remaining"`
	AvgFillPrice decimal.Decimal      `json:"avg_fill_price"`
	Timestamp    time.Time            `json:"timestamp"`
}

// ExecutionEvent is emitted for each fill.
type ExecutionEvent struct {
	OrderID    int64                `json:"order_id"`
	Contract   model.SymbolContract `json:"contract"`
	Side       model.OrderSide      `json:"side"`
	Quantity   int64                `json:"quantity"`
	Price      decimal.Decimal      `json:"price"`
	Commission decimal.Decimal      `json:"commission"`
	Timestamp  time.Time            `json:"timestamp"`
}

// MarketDataEvent carries a tick or bar for a symbol. High/Low default to
// zero when the update is a bare tick.
type MarketDataEvent struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	High      decimal.Decimal `json:"high,omitempty"`
	Low       decimal.Decimal `json:"low,omitempty"`
	Volume    int64           `json:"volume,omitempty"`
}

// DiagnosticEvent is an instrumentation record routed to telemetry sinks
// and the alert router.
type DiagnosticEvent struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}
