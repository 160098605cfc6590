// Package scanner finds and ranks strangle candidates across option chains.
package scanner

import (
	"fmt"
	"math"
	"strings"

	"github.com/eddiefleurent/strangle_scanner/internal/models"
	"github.com/eddiefleurent/strangle_scanner/internal/pricing"
)

// MissingDataPolicy decides how a quote without volume or open interest is
// compared against the liquidity thresholds.
type MissingDataPolicy string

const (
	// MissingExclude drops any row whose volume or open interest is unknown.
	MissingExclude MissingDataPolicy = "exclude"
	// MissingAsZero treats an unknown volume or open interest as 0.
	MissingAsZero MissingDataPolicy = "zero"
)

// DeltaMode decides whether min_delta/max_delta take part in filtering.
type DeltaMode string

const (
	// DeltaInert accepts the delta band but never filters on it.
	DeltaInert DeltaMode = "inert"
	// DeltaBlackScholes computes each leg's delta from its IV and keeps the
	// leg only when |delta| lies inside the band.
	DeltaBlackScholes DeltaMode = "black_scholes"
)

// ParseMissingDataPolicy maps a config value to a policy; empty means exclude.
func ParseMissingDataPolicy(s string) (MissingDataPolicy, error) {
	switch MissingDataPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MissingExclude:
		return MissingExclude, nil
	case MissingAsZero:
		return MissingAsZero, nil
	default:
		return "", fmt.Errorf("invalid missing data policy %q: must be 'exclude' or 'zero'", s)
	}
}

// ParseDeltaMode maps a config value to a delta mode; empty means inert.
func ParseDeltaMode(s string) (DeltaMode, error) {
	switch DeltaMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeltaInert:
		return DeltaInert, nil
	case DeltaBlackScholes:
		return DeltaBlackScholes, nil
	default:
		return "", fmt.Errorf("invalid delta mode %q: must be 'inert' or 'black_scholes'", s)
	}
}

// ChainFilter keeps the out-of-the-money legs of a snapshot that clear the
// price, IV and liquidity thresholds. The zero value excludes rows with
// missing liquidity data and ignores the delta band.
type ChainFilter struct {
	MissingData  MissingDataPolicy
	Delta        DeltaMode
	RiskFreeRate float64
}

// FilterChain applies the zero-value ChainFilter: no delta filtering, rows with
// missing volume or open interest dropped.
func FilterChain(snapshot *models.ChainSnapshot, currentPrice float64,
	params models.ScanParameters) (calls, puts []models.OptionQuote, err error) {
	return ChainFilter{}.Filter(snapshot, currentPrice, 0, params)
}

// Filter returns the retained calls (strike above spot) and puts (strike below
// spot) in snapshot order. dte is only consulted in DeltaBlackScholes mode.
func (f ChainFilter) Filter(snapshot *models.ChainSnapshot, currentPrice float64, dte int,
	params models.ScanParameters) (calls, puts []models.OptionQuote, err error) {
	if snapshot == nil {
		return nil, nil, &models.DataShapeError{Reason: "nil chain snapshot"}
	}

	calls = make([]models.OptionQuote, 0, len(snapshot.Calls))
	for _, q := range snapshot.Calls {
		if err := checkShape(snapshot, q); err != nil {
			return nil, nil, err
		}
		if q.Strike > currentPrice && f.keep(q, true, currentPrice, dte, params) {
			calls = append(calls, q)
		}
	}

	puts = make([]models.OptionQuote, 0, len(snapshot.Puts))
	for _, q := range snapshot.Puts {
		if err := checkShape(snapshot, q); err != nil {
			return nil, nil, err
		}
		if q.Strike < currentPrice && f.keep(q, false, currentPrice, dte, params) {
			puts = append(puts, q)
		}
	}

	return calls, puts, nil
}

func checkShape(snapshot *models.ChainSnapshot, q models.OptionQuote) error {
	if math.IsNaN(q.Strike) || math.IsInf(q.Strike, 0) || q.Strike <= 0 {
		return &models.DataShapeError{
			Symbol:     snapshot.Symbol,
			Expiration: snapshot.Expiration,
			Reason:     fmt.Sprintf("invalid strike %v", q.Strike),
		}
	}
	return nil
}

// keep checks every non-moneyness condition. NaN prices or IVs compare false
// and are therefore dropped.
func (f ChainFilter) keep(q models.OptionQuote, isCall bool, spot float64, dte int,
	params models.ScanParameters) bool {
	if !(q.LastPrice >= params.MinPrice && q.LastPrice <= params.MaxPrice) {
		return false
	}
	if math.IsInf(q.ImpliedVolatility, 0) || !(q.ImpliedVolatility*100 >= params.MinIV) {
		return false
	}

	volume, ok := f.liquidity(q.Volume)
	if !ok || volume < params.MinVolume {
		return false
	}
	oi, ok := f.liquidity(q.OpenInterest)
	if !ok || oi < params.MinOpenInterest {
		return false
	}

	if f.Delta == DeltaBlackScholes {
		d := math.Abs(pricing.Delta(isCall, spot, q.Strike, pricing.YearFraction(dte),
			f.RiskFreeRate, q.ImpliedVolatility))
		if !(d >= params.MinDelta && d <= params.MaxDelta) {
			return false
		}
	}
	return true
}

func (f ChainFilter) liquidity(v *int64) (int64, bool) {
	if v != nil {
		return *v, true
	}
	if f.MissingData == MissingAsZero {
		return 0, true
	}
	return 0, false
}
