// Package util provides common helpers for price ticks and option symbols.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.01, 1.235 becomes 1.24.
func RoundToTick(x, tick float64) float64 {
	return toTick(x, tick, func(d decimal.Decimal) decimal.Decimal { return d.Round(0) })
}

// FloorToTick rounds x down to a tick multiple.
func FloorToTick(x, tick float64) float64 {
	return toTick(x, tick, decimal.Decimal.Floor)
}

// CeilToTick rounds x up to a tick multiple.
func CeilToTick(x, tick float64) float64 {
	return toTick(x, tick, decimal.Decimal.Ceil)
}

// toTick does the division in decimal so that values like 1.235 are not
// pulled below the tie by binary representation error. Non-finite inputs and
// a zero tick return x unchanged; a negative tick is used by magnitude.
func toTick(x, tick float64, snap func(decimal.Decimal) decimal.Decimal) float64 {
	if tick == 0 || !isFinite(x) || !isFinite(tick) {
		return x
	}
	t := decimal.NewFromFloat(math.Abs(tick))
	f, _ := snap(decimal.NewFromFloat(x).Div(t)).Mul(t).Float64()
	return f
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
