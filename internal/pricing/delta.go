// Package pricing provides the Black-Scholes pieces the scanner needs to turn
// a quoted implied volatility into an option delta.
package pricing

import "math"

// DaysPerYear converts calendar days to the year fraction used by Black-Scholes.
const DaysPerYear = 365.0

// Delta returns the Black-Scholes delta of a European option.
//
//   - S: spot price of the underlying
//   - K: strike
//   - T: time to expiry in years
//   - r: risk-free rate (annual, decimal)
//   - sigma: implied volatility (annual, decimal)
//
// Calls are in [0,1], puts in [-1,0]. With no time or no volatility left the
// option is treated as expired and its delta is the intrinsic step.
func Delta(isCall bool, S, K, T, r, sigma float64) float64 {
	if S <= 0 || K <= 0 {
		return math.NaN()
	}
	if T <= 0 || sigma <= 0 {
		switch {
		case isCall && S > K:
			return 1
		case !isCall && S < K:
			return -1
		default:
			return 0
		}
	}

	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	if isCall {
		return normCDF(d1)
	}
	return normCDF(d1) - 1
}

// YearFraction converts days to expiration into years.
func YearFraction(dte int) float64 {
	if dte <= 0 {
		return 0
	}
	return float64(dte) / DaysPerYear
}

func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
