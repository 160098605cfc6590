package scanner

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strangle_scanner/internal/models"
)

var (
	decHundred = decimal.NewFromInt(100)
	decFifty   = decimal.NewFromInt(50)
	decOne     = decimal.NewFromInt(1)
)

// PairAndRank crosses every retained call with every retained put and keeps
// the pairs whose combined price lies in [min_strangle_cost, max_strangle_cost].
// Candidates come back in discovery order (call row, then put row); callers
// merge across expirations and symbols and then apply RankByIV once.
func PairAndRank(calls, puts []models.OptionQuote, symbol string, currentPrice float64,
	expiration string, dte int, params models.ScanParameters) ([]models.StrangleCandidate, error) {
	if len(calls) == 0 || len(puts) == 0 {
		return nil, nil
	}
	if currentPrice == 0 {
		return nil, &models.DivisionByZeroError{Op: "strangle metrics for " + symbol}
	}
	if !finite(currentPrice) {
		return nil, &models.DataShapeError{Symbol: symbol, Expiration: expiration,
			Reason: fmt.Sprintf("invalid underlying price %v", currentPrice)}
	}
	for _, legs := range [][]models.OptionQuote{calls, puts} {
		for _, q := range legs {
			if !finite(q.Strike, q.LastPrice, q.ImpliedVolatility) {
				return nil, &models.DataShapeError{Symbol: symbol, Expiration: expiration,
					Reason: fmt.Sprintf("non-finite quote at strike %v", q.Strike)}
			}
		}
	}

	spot := decimal.NewFromFloat(currentPrice)
	minCost := decimal.NewFromFloat(params.MinStrangleCost)
	maxCost := decimal.NewFromFloat(params.MaxStrangleCost)

	var out []models.StrangleCandidate
	for _, call := range calls {
		callPrice := decimal.NewFromFloat(call.LastPrice)
		callStrike := decimal.NewFromFloat(call.Strike)
		callIV := decimal.NewFromFloat(call.ImpliedVolatility)

		for _, put := range puts {
			putPrice := decimal.NewFromFloat(put.LastPrice)
			cost := callPrice.Add(putPrice)
			if cost.LessThan(minCost) || cost.GreaterThan(maxCost) {
				continue
			}

			putStrike := decimal.NewFromFloat(put.Strike)
			putIV := decimal.NewFromFloat(put.ImpliedVolatility)

			width := callStrike.Sub(putStrike)
			upper := callStrike.Add(cost)
			lower := putStrike.Sub(cost)

			out = append(out, models.StrangleCandidate{
				Symbol:            symbol,
				CurrentPrice:      currentPrice,
				Expiration:        expiration,
				DTE:               dte,
				CallStrike:        call.Strike,
				PutStrike:         put.Strike,
				CallPrice:         call.LastPrice,
				PutPrice:          put.LastPrice,
				CallIV:            toFloat(callIV.Mul(decHundred)),
				PutIV:             toFloat(putIV.Mul(decHundred)),
				AvgIV:             toFloat(callIV.Add(putIV).Mul(decFifty)),
				CallVolume:        deref(call.Volume),
				PutVolume:         deref(put.Volume),
				CallOI:            deref(call.OpenInterest),
				PutOI:             deref(put.OpenInterest),
				StrangleCost:      toFloat(cost),
				Width:             toFloat(width),
				WidthPercent:      toFloat(width.Mul(decHundred).Div(spot)),
				UpperBreakeven:    toFloat(upper),
				LowerBreakeven:    toFloat(lower),
				UpperBreakevenPct: toFloat(upper.Div(spot).Sub(decOne).Mul(decHundred)),
				LowerBreakevenPct: toFloat(decOne.Sub(lower.Div(spot)).Mul(decHundred)),
			})
		}
	}
	return out, nil
}

// RankByIV orders candidates by average IV, highest first. Equal IVs keep
// their relative order.
func RankByIV(candidates []models.StrangleCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].AvgIV > candidates[j].AvgIV
	})
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
