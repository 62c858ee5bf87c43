package usage

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"aigateway/internal/core"
)

// costScale matches the ledger's numeric(12,6) cost column.
const costScale = 6

var perMillion = decimal.NewFromInt(1_000_000)

// Price is a provider's USD price per million tokens.
type Price struct {
	InputPerMtok  decimal.Decimal
	OutputPerMtok decimal.Decimal
}

// PriceTable maps providers to prices. Providers missing from the table cost zero.
type PriceTable map[core.ProviderID]Price

// Estimate returns the deterministic cost of one call. Free providers always cost zero,
// and the result is never negative.
func (t PriceTable) Estimate(provider core.ProviderID, tokensIn, tokensOut int) decimal.Decimal {
	if provider.IsFree() {
		return decimal.Zero
	}
	price, ok := t[provider]
	if !ok {
		return decimal.Zero
	}
	in := decimal.NewFromInt(int64(max(tokensIn, 0)))
	out := decimal.NewFromInt(int64(max(tokensOut, 0)))

	cost := price.InputPerMtok.Mul(in).Add(price.OutputPerMtok.Mul(out)).Div(perMillion).Round(costScale)
	if cost.IsNegative() {
		return decimal.Zero
	}
	return cost
}

// EstimateTokens approximates a token count as one token per four characters.
// Used when a provider does not report usage.
func EstimateTokens(texts ...string) int {
	chars := 0
	for _, s := range texts {
		chars += utf8.RuneCountInString(s)
	}
	if chars == 0 {
		return 0
	}
	return (chars + 3) / 4
}

// toMicros converts a cost to integer millionths of a dollar.
func toMicros(d decimal.Decimal) int64 {
	return d.Shift(costScale).Round(0).IntPart()
}

// fromMicros converts millionths of a dollar to a cost.
func fromMicros(m int64) decimal.Decimal {
	return decimal.New(m, -costScale)
}
