package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"pilot/internal/model"
)

func TestStockCommission(t *testing.T) {
	fees := DefaultFeeConfig()
	contract := model.NewContract("AAPL")

	t.Run("per share rate", func(t *testing.T) {
		commission, _ := fees.EstimateCosts(contract, 1000, decimal.NewFromInt(100))
		assert.True(t, commission.Equal(decimal.NewFromInt(5)),
			"1000 shares at $0.005, got %s", commission)
	})

	t.Run("minimum applies to small orders", func(t *testing.T) {
		commission, _ := fees.EstimateCosts(contract, 10, decimal.NewFromInt(100))
		assert.True(t, commission.Equal(decimal.NewFromInt(1)),
			"commission floor is $1, got %s", commission)
	})
}

func TestForexCommissionIsPercentage(t *testing.T) {
	fees := DefaultFeeConfig()
	contract := model.SymbolContract{Symbol: "EURUSD", SecType: "CASH", Exchange: "IDEALPRO", Currency: "USD"}

	commission, _ := fees.EstimateCosts(contract, 100000, decimal.NewFromInt(1))
	// 0.2 bps of a 100,000 notional.
	assert.True(t, commission.Equal(decimal.NewFromInt(2)), "got %s", commission)
}

func TestSlippageEstimate(t *testing.T) {
	t.Run("basis points of notional", func(t *testing.T) {
		est := SlippageEstimate{BasisPoints: decimal.NewFromInt(5)}
		slippage := est.Calculate(100, decimal.NewFromInt(200))
		assert.True(t, slippage.Equal(decimal.NewFromInt(10)),
			"5bps of 20000, got %s", slippage)
	})

	t.Run("fixed amount takes precedence", func(t *testing.T) {
		est := SlippageEstimate{BasisPoints: decimal.NewFromInt(5), FixedAmount: decimal.NewFromInt(3)}
		slippage := est.Calculate(100, decimal.NewFromInt(200))
		assert.True(t, slippage.Equal(decimal.NewFromInt(3)))
	})
}

func TestCommissionMaximumCap(t *testing.T) {
	profile := CommissionProfile{
		PerShare: decimal.RequireFromString("0.01"),
		Minimum:  decimal.NewFromInt(1),
		Maximum:  decimal.NewFromInt(50),
	}
	commission := profile.Calculate(100000, decimal.NewFromInt(10))
	assert.True(t, commission.Equal(decimal.NewFromInt(50)),
		"cap at maximum, got %s", commission)
}

func TestTotalCostCombinesCommissionAndSlippage(t *testing.T) {
	fees := DefaultFeeConfig()
	contract := model.NewContract("AAPL")

	commission, slippage := fees.EstimateCosts(contract, 1000, decimal.NewFromInt(100))
	total := fees.TotalCost(contract, 1000, decimal.NewFromInt(100))
	assert.True(t, total.Equal(commission.Add(slippage)))
}
