package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType mirrors the broker's order type codes.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MKT"
	OrderTypeLimit     OrderType = "LMT"
	OrderTypeStop      OrderType = "STP"
	OrderTypeStopLimit OrderType = "STP LMT"
)

// OrderStatus mirrors the broker's order lifecycle states.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PendingSubmit"
	StatusSubmitted OrderStatus = "Submitted"
	StatusFilled    OrderStatus = "Filled"
	StatusCancelled OrderStatus = "Cancelled"
	StatusRejected  OrderStatus = "ApiRejected"
)

// SymbolContract identifies a tradeable instrument.
type SymbolContract struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"sec_type"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// NewContract builds a stock contract with SMART routing defaults.
func NewContract(symbol string) SymbolContract {
	return SymbolContract{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		SecType:  "STK",
		Exchange: "SMART",
		Currency: "USD",
	}
}

// OrderRequest describes an order to be routed to the broker.
type OrderRequest struct {
	Contract   SymbolContract  `json:"contract"`
	Side       OrderSide       `json:"side"`
	Quantity   int64           `json:"quantity"`
	OrderType  OrderType       `json:"order_type"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  decimal.Decimal `json:"stop_price,omitempty"`
	// ExpectedPrice is the estimated fill price used for risk validation
	// and notional clipping; it never reaches the wire.
	ExpectedPrice decimal.Decimal `json:"expected_price,omitempty"`
	TimeInForce   string          `json:"time_in_force,omitempty"`
}

// Validate checks the cross-field invariants of an order request.
func (r OrderRequest) Validate() error {
	if r.Contract.Symbol == "" {
		return fmt.Errorf("order request: symbol cannot be empty")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("order request: invalid side %q", r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order request: quantity must be positive, got %d", r.Quantity)
	}
	switch r.OrderType {
	case OrderTypeLimit, OrderTypeStopLimit:
		if r.LimitPrice.IsZero() {
			return fmt.Errorf("order request: limit price required for %s", r.OrderType)
		}
	}
	switch r.OrderType {
	case OrderTypeStop, OrderTypeStopLimit:
		if r.StopPrice.IsZero() {
			return fmt.Errorf("order request: stop price required for %s", r.OrderType)
		}
	}
	return nil
}

// WithQuantity returns a copy of the request with an adjusted quantity.
func (r OrderRequest) WithQuantity(quantity int64) OrderRequest {
	r.Quantity = quantity
	return r
}

// ResolvePrice picks the best available price estimate for risk checks:
// expected, then limit, then stop. Zero when none is set.
func (r OrderRequest) ResolvePrice() decimal.Decimal {
	if r.ExpectedPrice.IsPositive() {
		return r.ExpectedPrice
	}
	if r.LimitPrice.IsPositive() {
		return r.LimitPrice
	}
	if r.StopPrice.IsPositive() {
		return r.StopPrice
	}
	return decimal.Zero
}

// OrderResult is the broker's acknowledgement of a placed order.
type OrderResult struct {
	OrderID      int64           `json:"order_id"`
	Contract     SymbolContract  `json:"contract"`
	Side         OrderSide       `json:"side"`
	Quantity     int64           `json:"quantity"`
	OrderType    OrderType       `json:"order_type"`
	Status       OrderStatus     `json:"status"`
	FilledQty    int64           `json:"filled_quantity"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Commission   decimal.Decimal `json:"commission"`
	Timestamp    time.Time       `json:"timestamp"`
}
