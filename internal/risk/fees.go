package risk

import (
	"github.com/shopspring/decimal"

	"pilot/internal/model"
)

// CommissionProfile models a broker's commission schedule for one asset class.
type CommissionProfile struct {
	PerShare   decimal.Decimal `json:"per_share"`
	Percentage decimal.Decimal `json:"percentage"`
	Minimum    decimal.Decimal `json:"minimum"`
	Maximum    decimal.Decimal `json:"maximum"` // zero means uncapped
}

// Calculate estimates the commission for an order.
func (p CommissionProfile) Calculate(quantity int64, price decimal.Decimal) decimal.Decimal {
	qty := decimal.NewFromInt(absInt64(quantity))
	commission := p.PerShare.Mul(qty)
	if p.Percentage.IsPositive() {
		commission = commission.Add(qty.Mul(price).Mul(p.Percentage))
	}
	if p.Minimum.IsPositive() && commission.LessThan(p.Minimum) {
		commission = p.Minimum
	}
	if p.Maximum.IsPositive() && commission.GreaterThan(p.Maximum) {
		commission = p.Maximum
	}
	return commission
}

// SlippageEstimate models expected execution slippage. FixedAmount per share
// takes precedence over the basis-point estimate when set.
type SlippageEstimate struct {
	BasisPoints decimal.Decimal `json:"basis_points"`
	FixedAmount decimal.Decimal `json:"fixed_amount"`
}

func (s SlippageEstimate) Calculate(quantity int64, price decimal.Decimal) decimal.Decimal {
	qty := decimal.NewFromInt(absInt64(quantity))
	if s.FixedAmount.IsPositive() {
		return s.FixedAmount.Mul(qty)
	}
	notional := qty.Mul(price)
	return notional.Mul(s.BasisPoints).Div(decimal.NewFromInt(10000))
}

// FeeConfig bundles per-security-type commission and slippage profiles.
type FeeConfig struct {
	StockCommission   CommissionProfile `json:"stock_commission"`
	ForexCommission   CommissionProfile `json:"forex_commission"`
	OptionCommission  CommissionProfile `json:"option_commission"`
	FuturesCommission CommissionProfile `json:"futures_commission"`
	StockSlippage     SlippageEstimate  `json:"stock_slippage"`
	ForexSlippage     SlippageEstimate  `json:"forex_slippage"`
	OptionSlippage    SlippageEstimate  `json:"option_slippage"`
	FuturesSlippage   SlippageEstimate  `json:"futures_slippage"`
}

// DefaultFeeConfig mirrors an IBKR-tiered retail schedule: $0.005/share min
// $1 for stock, 0.2 bps for FX, per-contract pricing for options and futures.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		StockCommission: CommissionProfile{
			PerShare: decimal.RequireFromString("0.005"),
			Minimum:  decimal.RequireFromString("1.00"),
		},
		ForexCommission: CommissionProfile{
			Percentage: decimal.RequireFromString("0.00002"),
		},
		OptionCommission: CommissionProfile{
			PerShare: decimal.RequireFromString("0.65"),
			Minimum:  decimal.RequireFromString("1.00"),
		},
		FuturesCommission: CommissionProfile{
			PerShare: decimal.RequireFromString("0.85"),
		},
		StockSlippage:   SlippageEstimate{BasisPoints: decimal.NewFromInt(5)},
		ForexSlippage:   SlippageEstimate{BasisPoints: decimal.NewFromInt(1)},
		OptionSlippage:  SlippageEstimate{BasisPoints: decimal.NewFromInt(20)},
		FuturesSlippage: SlippageEstimate{BasisPoints: decimal.NewFromInt(5)},
	}
}

// EstimateCosts returns (commission, slippage) for an order, selecting the
// profile by security type. Unknown types fall back to the stock profile.
func (c FeeConfig) EstimateCosts(contract model.SymbolContract, quantity int64, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	switch contract.SecType {
	case "CASH":
		return c.ForexCommission.Calculate(quantity, price), c.ForexSlippage.Calculate(quantity, price)
	case "OPT":
		return c.OptionCommission.Calculate(quantity, price), c.OptionSlippage.Calculate(quantity, price)
	case "FUT":
		return c.FuturesCommission.Calculate(quantity, price), c.FuturesSlippage.Calculate(quantity, price)
	default:
		return c.StockCommission.Calculate(quantity, price), c.StockSlippage.Calculate(quantity, price)
	}
}

// TotalCost returns commission plus slippage.
func (c FeeConfig) TotalCost(contract model.SymbolContract, quantity int64, price decimal.Decimal) decimal.Decimal {
	commission, slippage := c.EstimateCosts(contract, quantity, price)
	return commission.Add(slippage)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
