package usage

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"aigateway/internal/core"
)

func testPrices() PriceTable {
	return PriceTable{
		core.FreePrimary:    {InputPerMtok: decimal.NewFromInt(5), OutputPerMtok: decimal.NewFromInt(5)},
		core.PaidAggregator: {InputPerMtok: decimal.RequireFromString("0.15"), OutputPerMtok: decimal.RequireFromString("0.60")},
		core.PaidDirect:     {InputPerMtok: decimal.RequireFromString("0.14"), OutputPerMtok: decimal.RequireFromString("0.28")},
	}
}

func TestEstimate_FreeProvidersAlwaysZero(t *testing.T) {
	prices := testPrices()
	for _, tokens := range []int{0, 1, 1_000, 10_000_000} {
		assert.True(t, prices.Estimate(core.FreePrimary, tokens, tokens).IsZero(), "free_primary with %d tokens", tokens)
		assert.True(t, prices.Estimate(core.FreeSecondary, tokens, tokens).IsZero(), "free_secondary with %d tokens", tokens)
	}
}

func TestEstimate_PaidProviders(t *testing.T) {
	prices := testPrices()
	tests := []struct {
		name      string
		provider  core.ProviderID
		in, out   int
		wantValue string
	}{
		{"aggregator one million each", core.PaidAggregator, 1_000_000, 1_000_000, "0.75"},
		{"direct mixed", core.PaidDirect, 1000, 500, "0.00028"},
		{"zero tokens", core.PaidDirect, 0, 0, "0"},
		{"negative tokens clamp", core.PaidDirect, -50, -50, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := prices.Estimate(tt.provider, tt.in, tt.out)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.wantValue)), "got %s, want %s", got, tt.wantValue)
			assert.False(t, got.IsNegative())
		})
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	prices := testPrices()
	first := prices.Estimate(core.PaidAggregator, 1234, 567)
	for i := 0; i < 10; i++ {
		assert.True(t, first.Equal(prices.Estimate(core.PaidAggregator, 1234, 567)))
	}
}

func TestEstimate_UnpricedProviderIsZero(t *testing.T) {
	assert.True(t, PriceTable{}.Estimate(core.PaidDirect, 1000, 1000).IsZero())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens())
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 3, EstimateTokens("hello", " world"))
}

func TestMicrosRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("1.234567")
	assert.Equal(t, int64(1234567), toMicros(d))
	assert.True(t, fromMicros(1234567).Equal(d))
}
