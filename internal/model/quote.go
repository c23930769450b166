package model

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Fixed-point precision of broadcast quote fields.
const (
	PriceDecimals   = 5
	PercentDecimals = 2
)

var hundred = decimal.NewFromInt(100)

// FormatPrice renders a quote with PriceDecimals places ("1.0855" -> "1.08550").
func FormatPrice(d decimal.Decimal) string {
	return d.StringFixed(PriceDecimals)
}

// ParsePrice parses a stored quote field. Empty or malformed strings yield false.
func ParsePrice(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// QuotePatch computes the patch produced by a new quote on m: current price,
// change and change percent against the previous price, and running high/low.
func QuotePatch(m Market, quote decimal.Decimal, at time.Time) MarketPatch {
	change := decimal.Zero
	changePct := decimal.Zero
	if prev, ok := ParsePrice(m.CurrentPrice); ok && !prev.IsZero() {
		change = quote.Sub(prev)
		changePct = change.Div(prev).Mul(hundred)
	}

	high := quote
	if h, ok := ParsePrice(m.High); ok && h.GreaterThan(quote) {
		high = h
	}
	low := quote
	if l, ok := ParsePrice(m.Low); ok && l.LessThan(quote) {
		low = l
	}

	return MarketPatch{
		CurrentPrice:  optional.Some(FormatPrice(quote)),
		Change:        optional.Some(FormatPrice(change)),
		ChangePercent: optional.Some(changePct.StringFixed(PercentDecimals)),
		High:          optional.Some(FormatPrice(high)),
		Low:           optional.Some(FormatPrice(low)),
		UpdatedAt:     optional.Some(at),
	}
}

// ApplyQuote returns m updated with a new quote.
func ApplyQuote(m Market, quote decimal.Decimal, at time.Time) Market {
	return QuotePatch(m, quote, at).Apply(m)
}
