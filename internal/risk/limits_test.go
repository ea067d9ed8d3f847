package risk

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitFallback(t *testing.T) {
	r := NewSymbolLimitRegistry("")

	assert.Nil(t, r.Limit("AAPL"), "no entry and no default")

	r.SetDefaultLimit(SymbolLimit{MaxPositionSize: 100})
	limit := r.Limit("AAPL")
	require.NotNil(t, limit)
	assert.Equal(t, int64(100), limit.MaxPositionSize)

	r.SetSymbolLimit("AAPL", SymbolLimit{MaxPositionSize: 500})
	limit = r.Limit("AAPL")
	require.NotNil(t, limit)
	assert.Equal(t, int64(500), limit.MaxPositionSize, "symbol entry beats default")

	limit = r.Limit("MSFT")
	require.NotNil(t, limit)
	assert.Equal(t, int64(100), limit.MaxPositionSize, "other symbols still fall back")
}

func TestRegistrySaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.json")

	r := NewSymbolLimitRegistry(path)
	r.SetDefaultLimit(SymbolLimit{
		MaxPositionSize:  1000,
		MaxOrderExposure: decimal.NewFromInt(50000),
	})
	r.SetSymbolLimit("TSLA", SymbolLimit{
		MaxPositionSize: 50,
		MaxDailyLoss:    decimal.RequireFromString("150.50"),
	})
	require.NoError(t, r.Save())

	restored := NewSymbolLimitRegistry(path)
	limit := restored.Limit("TSLA")
	require.NotNil(t, limit)
	assert.Equal(t, int64(50), limit.MaxPositionSize)
	assert.True(t, limit.MaxDailyLoss.Equal(decimal.RequireFromString("150.50")))

	def := restored.DefaultLimit()
	require.NotNil(t, def)
	assert.True(t, def.MaxOrderExposure.Equal(decimal.NewFromInt(50000)))
}

func TestRegistryMissingFileStartsEmpty(t *testing.T) {
	r := NewSymbolLimitRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Nil(t, r.Limit("AAPL"))
	assert.Nil(t, r.DefaultLimit())
}
