package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanParametersValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(p *ScanParameters)
		wantField  string
		wantReason string
	}{
		{"defaults", func(p *ScanParameters) {}, "", ""},
		{"equal bounds", func(p *ScanParameters) {
			p.MinDTE, p.MaxDTE = 30, 30
			p.MinDelta, p.MaxDelta = 0.2, 0.2
		}, "", ""},
		{"all zero", func(p *ScanParameters) { *p = ScanParameters{} }, "", ""},

		{"nan min price", func(p *ScanParameters) { p.MinPrice = math.NaN() }, "min_price", "must be a finite number"},
		{"inf max price", func(p *ScanParameters) { p.MaxPrice = math.Inf(1) }, "max_price", "must be a finite number"},
		{"nan min iv", func(p *ScanParameters) { p.MinIV = math.NaN() }, "min_iv", "must be a finite number"},
		{"negative inf min delta", func(p *ScanParameters) { p.MinDelta = math.Inf(-1) }, "min_delta", "must be a finite number"},
		{"inf max underlying", func(p *ScanParameters) { p.MaxUnderlyingPrice = math.Inf(1) }, "max_underlying_price", "must be a finite number"},

		{"negative min price", func(p *ScanParameters) { p.MinPrice = -0.01 }, "min_price", "must be >= 0"},
		{"negative min iv", func(p *ScanParameters) { p.MinIV = -1 }, "min_iv", "must be >= 0"},
		{"negative max strangle cost", func(p *ScanParameters) { p.MaxStrangleCost = -5 }, "max_strangle_cost", "must be >= 0"},
		{"negative min underlying", func(p *ScanParameters) { p.MinUnderlyingPrice = -10 }, "min_underlying_price", "must be >= 0"},
		{"negative min volume", func(p *ScanParameters) { p.MinVolume = -1 }, "min_volume", "must be >= 0"},
		{"negative min open interest", func(p *ScanParameters) { p.MinOpenInterest = -1 }, "min_open_interest", "must be >= 0"},
		{"negative min dte", func(p *ScanParameters) { p.MinDTE = -1 }, "min_dte", "must be >= 0"},

		{"price window inverted", func(p *ScanParameters) { p.MinPrice = 20 }, "max_price", "must be >= its minimum"},
		{"dte window inverted", func(p *ScanParameters) { p.MinDTE = 90 }, "max_dte", "must be >= its minimum"},
		{"delta window inverted", func(p *ScanParameters) { p.MinDelta = 0.5 }, "max_delta", "must be >= its minimum"},
		{"cost window inverted", func(p *ScanParameters) { p.MinStrangleCost = 20 }, "max_strangle_cost", "must be >= its minimum"},
		{"underlying window inverted", func(p *ScanParameters) { p.MinUnderlyingPrice = 600 }, "max_underlying_price", "must be >= its minimum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultScanParameters()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.Equal(t, tt.wantReason, vErr.Reason)
			assert.Equal(t, tt.wantField+" "+tt.wantReason, err.Error())
		})
	}
}
