// Package broker defines the order-routing surface and a paper
// implementation used for dry runs and tests.
package broker

import (
	"context"

	"pilot/internal/model"
)

// Broker routes orders and reports positions. Implementations must be safe
// for concurrent use.
type Broker interface {
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error)
	GetPositions(ctx context.Context) ([]model.Position, error)
}

// OrderCanceller is implemented by brokers that support cancelling a
// working order. Callers discover it with a type assertion.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, orderID int64) error
}
