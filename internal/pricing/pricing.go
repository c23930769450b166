// Package pricing computes the fixed-point payout preview shown when a trade is placed.
package pricing

import "github.com/shopspring/decimal"

// DefaultPayoutMultiplier is the rise/fall payout ratio used for previews.
var DefaultPayoutMultiplier = decimal.RequireFromString("1.85")

// MoneyDecimals is the precision of stakes, payouts and profits.
const MoneyDecimals = 2

// Potential returns the payout and profit of a winning contract for stake,
// rounded half away from zero to MoneyDecimals places.
//
//	Potential(100.00, 1.85) = 185.00, 85.00
func Potential(stake, multiplier decimal.Decimal) (payout, profit decimal.Decimal) {
	payout = stake.Mul(multiplier).Round(MoneyDecimals)
	profit = payout.Sub(stake).Round(MoneyDecimals)
	return payout, profit
}

// Format renders a money amount with MoneyDecimals places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(MoneyDecimals)
}
