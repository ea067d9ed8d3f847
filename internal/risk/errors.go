package risk

import "fmt"

// Limit identifies which risk limit a violation breached.
type Limit string

const (
	LimitDailyLoss           Limit = "daily_loss"
	LimitSymbolDailyLoss     Limit = "symbol_daily_loss"
	LimitPositionSize        Limit = "position_size"
	LimitOrderNotional       Limit = "order_notional"
	LimitCorrelationExposure Limit = "correlation_exposure"
	LimitGlobalExposure      Limit = "global_exposure"
)

// Violation is returned when an order fails a pre-trade check. It is always
// recoverable: the order is rejected and the caller may retry with a smaller
// size. It must never be silently dropped.
type Violation struct {
	Limit  Limit
	Symbol string
	Detail string
}

func (v *Violation) Error() string {
	if v.Symbol == "" {
		return fmt.Sprintf("risk violation (%s): %s", v.Limit, v.Detail)
	}
	return fmt.Sprintf("risk violation (%s) for %s: %s", v.Limit, v.Symbol, v.Detail)
}
