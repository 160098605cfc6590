// Package mock serves synthetic market data so the scanner can run without
// brokerage credentials.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/eddiefleurent/strangle_scanner/internal/broker"
	"github.com/eddiefleurent/strangle_scanner/internal/models"
	"github.com/eddiefleurent/strangle_scanner/internal/pricing"
	"github.com/eddiefleurent/strangle_scanner/internal/util"
)

const tickSize = 0.01

// DataProvider generates random but self-consistent quotes, chains and
// history per symbol. It is safe for concurrent use.
type DataProvider struct {
	now     func() time.Time
	symbols map[string]*symbolState
	mu      sync.Mutex
	// missingRate is the chance a contract reports no volume or open interest.
	missingRate float64
}

type symbolState struct {
	price float64
	iv    float64 // annualized, fraction
}

var (
	_ broker.MarketData      = (*DataProvider)(nil)
	_ broker.HistoryProvider = (*DataProvider)(nil)
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return n / 2
	}
	return r.Int64()
}

func NewDataProvider() *DataProvider {
	return &DataProvider{
		now:         time.Now,
		symbols:     make(map[string]*symbolState),
		missingRate: 0.05,
	}
}

// WithClock sets the clock used for expirations and time value.
func (m *DataProvider) WithClock(now func() time.Time) *DataProvider {
	if now != nil {
		m.now = now
	}
	return m
}

// state returns the symbol's current state, seeding it on first use with a
// price between 20 and 300 and an IV between 20% and 70%.
func (m *DataProvider) state(symbol string) symbolState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.symbols[symbol]
	if !ok {
		s = &symbolState{
			price: util.RoundToTick(20+secureFloat64()*280, tickSize),
			iv:    0.20 + secureFloat64()*0.50,
		}
		m.symbols[symbol] = s
	}
	return *s
}

// GetSpotPrice nudges the symbol's price by up to 0.5% and returns it.
func (m *DataProvider) GetSpotPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.state(symbol)

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.symbols[symbol]
	s.price = util.RoundToTick(s.price*(1+(secureFloat64()-0.5)*0.01), tickSize)
	return s.price, nil
}

// GetExpirations lists the next ten Friday expirations.
func (m *DataProvider) GetExpirations(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for day.Weekday() != time.Friday {
		day = day.AddDate(0, 0, 1)
	}

	exps := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		exps = append(exps, day.AddDate(0, 0, 7*i).Format(models.ExpirationLayout))
	}
	return exps, nil
}

// GetChainSnapshot builds a strike ladder of 20 strikes either side of spot.
func (m *DataProvider) GetChainSnapshot(ctx context.Context, symbol, expiration string) (*models.ChainSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options, err := m.GetOptionChain(symbol, expiration)
	if err != nil {
		return nil, err
	}
	return broker.ToChainSnapshot(symbol, expiration, options)
}

// GetOptionChain returns the raw contracts in the same shape the Tradier
// client decodes, greeks included.
func (m *DataProvider) GetOptionChain(symbol, expiration string) ([]broker.Option, error) {
	expDate, err := time.Parse(models.ExpirationLayout, expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}
	st := m.state(symbol)

	dte := int(expDate.Sub(m.now().UTC()).Hours() / 24)
	if dte < 0 {
		dte = 0 // Clamp to minimum 0 to prevent negative time values
	}
	t := pricing.YearFraction(dte)

	interval := strikeInterval(st.price)
	center := math.Round(st.price/interval) * interval

	options := make([]broker.Option, 0, 82)
	for i := -20; i <= 20; i++ {
		strike := center + float64(i)*interval
		if strike <= 0 {
			continue
		}
		// Mild smile: IV rises with distance from spot.
		iv := st.iv * (1 + 0.5*math.Abs(math.Log(strike/st.price)))

		for _, isCall := range []bool{false, true} {
			optType, label := "put", "Put"
			if isCall {
				optType, label = "call", "Call"
			}
			price := approxPremium(isCall, st.price, strike, t, iv)
			last := price
			opt := broker.Option{
				Symbol:         util.OCCSymbol(symbol, expDate, isCall, strike),
				Description:    fmt.Sprintf("%s %s $%.2f %s", symbol, expDate.Format("Jan 02 2006"), strike, label),
				Strike:         strike,
				OptionType:     optType,
				ExpirationDate: expiration,
				Bid:            math.Max(tickSize, util.FloorToTick(price*0.97, tickSize)),
				Ask:            util.CeilToTick(price*1.03, tickSize),
				Last:           &last,
				Underlying:     symbol,
				Greeks: &broker.Greeks{
					Delta:  pricing.Delta(isCall, st.price, strike, t, 0, iv),
					MidIV:  iv,
					SmvVol: iv,
				},
			}
			if secureFloat64() >= m.missingRate {
				v := secureInt63n(5000)
				opt.Volume = &v
			}
			if secureFloat64() >= m.missingRate {
				oi := secureInt63n(20000)
				opt.OpenInterest = &oi
			}
			options = append(options, opt)
		}
	}
	return options, nil
}

// GetHistory walks backwards from the current price to produce one bar per
// weekday in [start, end].
func (m *DataProvider) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("history end %s before start %s", end.Format(models.ExpirationLayout), start.Format(models.ExpirationLayout))
	}
	st := m.state(symbol)
	dailyVol := st.iv / math.Sqrt(252)

	var days []time.Time
	for d := end; !d.Before(start); d = d.AddDate(0, 0, -1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, d)
		}
	}

	bars := make([]models.PriceBar, len(days))
	closePx := st.price
	for i, d := range days {
		move := (secureFloat64() - 0.5) * 2 * dailyVol
		openPx := closePx / (1 + move)
		high := math.Max(openPx, closePx) * (1 + secureFloat64()*dailyVol/2)
		low := math.Min(openPx, closePx) * (1 - secureFloat64()*dailyVol/2)
		bars[len(days)-1-i] = models.PriceBar{
			Date:   d.Format(models.ExpirationLayout),
			Open:   util.RoundToTick(openPx, tickSize),
			High:   util.RoundToTick(high, tickSize),
			Low:    util.RoundToTick(low, tickSize),
			Close:  util.RoundToTick(closePx, tickSize),
			Volume: 100000 + secureInt63n(10000000),
		}
		closePx = openPx
	}
	return bars, nil
}

func strikeInterval(price float64) float64 {
	switch {
	case price < 25:
		return 0.5
	case price < 100:
		return 1
	case price < 250:
		return 2.5
	default:
		return 5
	}
}

// approxPremium is intrinsic value plus an at-the-money time value that
// decays with log-moneyness, floored at one tick.
func approxPremium(isCall bool, spot, strike, t, iv float64) float64 {
	intrinsic := math.Max(0, spot-strike)
	if !isCall {
		intrinsic = math.Max(0, strike-spot)
	}
	sd := iv * math.Sqrt(t)
	timeValue := 0.0
	if sd > 0 {
		z := math.Log(strike/spot) / sd
		timeValue = 0.4 * spot * sd * math.Exp(-0.5*z*z)
	}
	return math.Max(tickSize, util.RoundToTick(intrinsic+timeValue, tickSize))
}
