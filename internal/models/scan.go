// Package models holds the data shapes shared by the scanner, the market-data
// providers and the HTTP layer.
package models

import "math"

// ExpirationLayout is the date layout used by providers for expiration dates.
const ExpirationLayout = "2006-01-02"

// ScanParameters is the immutable configuration of a single scan.
// IV thresholds are percentages (30 means 30%); prices are per share.
type ScanParameters struct {
	MinPrice           float64 `json:"min_price" yaml:"min_price"`
	MaxPrice           float64 `json:"max_price" yaml:"max_price"`
	MinIV              float64 `json:"min_iv" yaml:"min_iv"`
	MinVolume          int64   `json:"min_volume" yaml:"min_volume"`
	MinOpenInterest    int64   `json:"min_open_interest" yaml:"min_open_interest"`
	MinDTE             int     `json:"min_dte" yaml:"min_dte"`
	MaxDTE             int     `json:"max_dte" yaml:"max_dte"`
	MinDelta           float64 `json:"min_delta" yaml:"min_delta"`
	MaxDelta           float64 `json:"max_delta" yaml:"max_delta"`
	MinStrangleCost    float64 `json:"min_strangle_cost" yaml:"min_strangle_cost"`
	MaxStrangleCost    float64 `json:"max_strangle_cost" yaml:"max_strangle_cost"`
	MinUnderlyingPrice float64 `json:"min_underlying_price" yaml:"min_underlying_price"`
	MaxUnderlyingPrice float64 `json:"max_underlying_price" yaml:"max_underlying_price"`
}

// DefaultScanParameters returns the thresholds used when a request or the
// config file does not supply its own.
func DefaultScanParameters() ScanParameters {
	return ScanParameters{
		MinPrice:           0.05,
		MaxPrice:           10.0,
		MinIV:              30,
		MinVolume:          10,
		MinOpenInterest:    10,
		MinDTE:             5,
		MaxDTE:             60,
		MinDelta:           0.05,
		MaxDelta:           0.45,
		MinStrangleCost:    0.20,
		MaxStrangleCost:    15.0,
		MinUnderlyingPrice: 10,
		MaxUnderlyingPrice: 500,
	}
}

// Validate checks that every bound is finite, non-negative and ordered.
func (p ScanParameters) Validate() error {
	floats := []struct {
		field string
		value float64
	}{
		{"min_price", p.MinPrice},
		{"max_price", p.MaxPrice},
		{"min_iv", p.MinIV},
		{"min_delta", p.MinDelta},
		{"max_delta", p.MaxDelta},
		{"min_strangle_cost", p.MinStrangleCost},
		{"max_strangle_cost", p.MaxStrangleCost},
		{"min_underlying_price", p.MinUnderlyingPrice},
		{"max_underlying_price", p.MaxUnderlyingPrice},
	}
	for _, f := range floats {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{Field: f.field, Reason: "must be a finite number"}
		}
		if f.value < 0 {
			return &ValidationError{Field: f.field, Reason: "must be >= 0"}
		}
	}
	if p.MinVolume < 0 {
		return &ValidationError{Field: "min_volume", Reason: "must be >= 0"}
	}
	if p.MinOpenInterest < 0 {
		return &ValidationError{Field: "min_open_interest", Reason: "must be >= 0"}
	}
	if p.MinDTE < 0 {
		return &ValidationError{Field: "min_dte", Reason: "must be >= 0"}
	}

	ranges := []struct {
		field    string
		min, max float64
	}{
		{"max_price", p.MinPrice, p.MaxPrice},
		{"max_dte", float64(p.MinDTE), float64(p.MaxDTE)},
		{"max_delta", p.MinDelta, p.MaxDelta},
		{"max_strangle_cost", p.MinStrangleCost, p.MaxStrangleCost},
		{"max_underlying_price", p.MinUnderlyingPrice, p.MaxUnderlyingPrice},
	}
	for _, r := range ranges {
		if r.min > r.max {
			return &ValidationError{Field: r.field, Reason: "must be >= its minimum"}
		}
	}
	return nil
}

// OptionQuote is one row of a chain snapshot. ImpliedVolatility is a fraction
// (0.35 means 35%). Volume and OpenInterest are nil when the provider did not
// report them.
type OptionQuote struct {
	Volume            *int64  `json:"volume"`
	OpenInterest      *int64  `json:"open_interest"`
	Symbol            string  `json:"symbol,omitempty"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"last_price"`
	ImpliedVolatility float64 `json:"implied_volatility"`
}

// ChainSnapshot is the full option chain of one underlying for one expiration.
type ChainSnapshot struct {
	Symbol     string        `json:"symbol"`
	Expiration string        `json:"expiration"`
	Calls      []OptionQuote `json:"calls"`
	Puts       []OptionQuote `json:"puts"`
}

// StrangleCandidate is a call/put pair that passed every scan threshold.
// Values are fixed at construction; IV fields are percentages.
type StrangleCandidate struct {
	Symbol            string  `json:"symbol"`
	Expiration        string  `json:"expiration"`
	CurrentPrice      float64 `json:"current_price"`
	DTE               int     `json:"dte"`
	CallStrike        float64 `json:"call_strike"`
	PutStrike         float64 `json:"put_strike"`
	CallPrice         float64 `json:"call_price"`
	PutPrice          float64 `json:"put_price"`
	CallIV            float64 `json:"call_iv"`
	PutIV             float64 `json:"put_iv"`
	AvgIV             float64 `json:"avg_iv"`
	CallVolume        int64   `json:"call_volume"`
	PutVolume         int64   `json:"put_volume"`
	CallOI            int64   `json:"call_oi"`
	PutOI             int64   `json:"put_oi"`
	StrangleCost      float64 `json:"strangle_cost"`
	Width             float64 `json:"width"`
	WidthPercent      float64 `json:"width_percent"`
	UpperBreakeven    float64 `json:"upper_breakeven"`
	LowerBreakeven    float64 `json:"lower_breakeven"`
	UpperBreakevenPct float64 `json:"upper_breakeven_pct"`
	LowerBreakevenPct float64 `json:"lower_breakeven_pct"`
}

// PriceBar is a daily OHLCV row from the historical-price provider. Date uses
// ExpirationLayout.
type PriceBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Int64Ptr is a helper for building quotes with reported volume or open interest.
func Int64Ptr(v int64) *int64 {
	return &v
}
