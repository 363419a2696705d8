package adapter

import (
	"math"

	"github.com/shopspring/decimal"
)

// defaultDecimals is used when the exchange does not advertise a precision
// for a market.
const defaultDecimals = 8

// roundRate rounds a price to the given number of decimals, half away from
// zero. Exchanges reject orders whose price carries more precision than the
// market allows.
func roundRate(rate float64, decimals int32) float64 {
	f, _ := decimal.NewFromFloat(rate).Round(decimals).Float64()
	return f
}

// roundAmount rounds an amount down so the order never exceeds the available
// balance after rounding.
func roundAmount(amount float64, decimals int32) float64 {
	f, _ := decimal.NewFromFloat(amount).RoundFloor(decimals).Float64()
	return f
}

// contracts converts a base-currency amount into an integer contract count
// for inverse-contract futures markets. The count is floored and never less
// than one so a valid request cannot round to nothing.
func contracts(amount, rate, contractValue float64) int64 {
	if contractValue <= 0 {
		return 0
	}
	n := int64(math.Floor(math.Abs(amount) * rate / contractValue))
	if n < 1 {
		n = 1
	}
	return n
}
