package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/strangle_scanner/internal/models"
)

// MarketData is the read-only quote source a scan pulls from.
type MarketData interface {
	// GetSpotPrice returns the last trade of the underlying; 0 means unavailable.
	GetSpotPrice(ctx context.Context, symbol string) (float64, error)
	// GetExpirations returns YYYY-MM-DD expirations in provider order.
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
	GetChainSnapshot(ctx context.Context, symbol, expiration string) (*models.ChainSnapshot, error)
}

// HistoryProvider serves daily bars for charting.
type HistoryProvider interface {
	GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error)
}

// OrderPlacer submits live multileg orders.
type OrderPlacer interface {
	PlaceMultilegOrder(ctx context.Context, order MultilegOrder) (*OrderResponse, error)
}

// OptionType represents the type of option (put or call)
type OptionType string

const (
	// OptionTypePut represents a put option
	OptionTypePut OptionType = "put"
	// OptionTypeCall represents a call option
	OptionTypeCall OptionType = "call"
)

// TradierClient adapts TradierAPI to the scanner's provider interfaces.
type TradierClient struct {
	*TradierAPI
}

var (
	_ MarketData      = (*TradierClient)(nil)
	_ HistoryProvider = (*TradierClient)(nil)
	_ OrderPlacer     = (*TradierClient)(nil)
)

// NewTradierClient creates a new Tradier client.
func NewTradierClient(api *TradierAPI) *TradierClient {
	return &TradierClient{TradierAPI: api}
}

// GetSpotPrice returns the quote's last trade.
func (t *TradierClient) GetSpotPrice(ctx context.Context, symbol string) (float64, error) {
	quote, err := t.GetQuoteCtx(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return quote.Last, nil
}

// GetExpirations returns the listed expirations for symbol.
func (t *TradierClient) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	return t.GetExpirationsCtx(ctx, symbol)
}

// GetChainSnapshot fetches the chain with greeks and splits it into calls and
// puts, each ordered by strike.
func (t *TradierClient) GetChainSnapshot(ctx context.Context, symbol, expiration string) (*models.ChainSnapshot, error) {
	options, err := t.GetOptionChainCtx(ctx, symbol, expiration, true)
	if err != nil {
		return nil, err
	}
	return ToChainSnapshot(symbol, expiration, options)
}

// GetHistory returns daily bars between start and end inclusive.
func (t *TradierClient) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	points, err := t.GetHistoricalDataCtx(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	bars := make([]models.PriceBar, len(points))
	for i, p := range points {
		bars[i] = models.PriceBar{
			Date:   p.Date.Format(models.ExpirationLayout),
			Open:   p.Open,
			High:   p.High,
			Low:    p.Low,
			Close:  p.Close,
			Volume: p.Volume,
		}
	}
	return bars, nil
}

// PlaceMultilegOrder submits order to the configured account.
func (t *TradierClient) PlaceMultilegOrder(ctx context.Context, order MultilegOrder) (*OrderResponse, error) {
	return t.PlaceMultilegOrderCtx(ctx, order)
}

// ToChainSnapshot converts raw Tradier rows into a snapshot. Rows with an
// unknown option_type make the whole chain unusable.
func ToChainSnapshot(symbol, expiration string, options []Option) (*models.ChainSnapshot, error) {
	snap := &models.ChainSnapshot{Symbol: symbol, Expiration: expiration}
	for _, o := range options {
		q := models.OptionQuote{
			Symbol:            o.Symbol,
			Strike:            o.Strike,
			LastPrice:         lastPrice(o),
			ImpliedVolatility: impliedVol(o),
			Volume:            o.Volume,
			OpenInterest:      o.OpenInterest,
		}
		switch OptionType(strings.ToLower(o.OptionType)) {
		case OptionTypeCall:
			snap.Calls = append(snap.Calls, q)
		case OptionTypePut:
			snap.Puts = append(snap.Puts, q)
		default:
			return nil, &models.DataShapeError{
				Symbol:     symbol,
				Expiration: expiration,
				Reason:     fmt.Sprintf("unknown option_type %q for %s", o.OptionType, o.Symbol),
			}
		}
	}
	sort.SliceStable(snap.Calls, func(i, j int) bool { return snap.Calls[i].Strike < snap.Calls[j].Strike })
	sort.SliceStable(snap.Puts, func(i, j int) bool { return snap.Puts[i].Strike < snap.Puts[j].Strike })
	return snap, nil
}

var nan = math.NaN()

// lastPrice is NaN when the contract has never traded, so the filter drops it.
func lastPrice(o Option) float64 {
	if o.Last == nil {
		return nan
	}
	return *o.Last
}

// impliedVol prefers mid IV and falls back to the smoothed vol surface.
func impliedVol(o Option) float64 {
	if o.Greeks == nil {
		return nan
	}
	if o.Greeks.MidIV > 0 {
		return o.Greeks.MidIV
	}
	if o.Greeks.SmvVol > 0 {
		return o.Greeks.SmvVol
	}
	return nan
}

// CircuitBreakerMarketData wraps a MarketData with circuit breaker functionality
type CircuitBreakerMarketData struct {
	data    MarketData
	breaker *gobreaker.CircuitBreaker
}

var _ MarketData = (*CircuitBreakerMarketData)(nil)

func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	data MarketData,
	fn func(MarketData) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(data) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultCircuitBreakerSettings trips after 60% of at least 5 calls fail in a minute.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	}
}

// IsProviderFailure reports whether err says the provider itself is unhealthy:
// transport errors, timeouts, throttling and 5xx responses. Unknown tickers,
// other 4xx responses, malformed payloads and caller cancellation are
// problems with one request and do not count.
func IsProviderFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var notFound *SymbolNotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	var shapeErr *models.DataShapeError
	if errors.As(err, &shapeErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return true
}

// NewCircuitBreakerMarketData creates a CircuitBreakerMarketData with custom settings.
// Only errors for which IsProviderFailure holds count against the breaker.
func NewCircuitBreakerMarketData(data MarketData, settings CircuitBreakerSettings, logger *logrus.Logger) *CircuitBreakerMarketData {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return !IsProviderFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerMarketData{
		data:    data,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State reports the breaker's current state.
func (c *CircuitBreakerMarketData) State() gobreaker.State {
	return c.breaker.State()
}

// GetSpotPrice wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetSpotPrice(ctx context.Context, symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.data, func(d MarketData) (float64, error) {
		return d.GetSpotPrice(ctx, symbol)
	})
}

// GetExpirations wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.data, func(d MarketData) ([]string, error) {
		return d.GetExpirations(ctx, symbol)
	})
}

// GetChainSnapshot wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetChainSnapshot(ctx context.Context, symbol, expiration string) (*models.ChainSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.data, func(d MarketData) (*models.ChainSnapshot, error) {
		return d.GetChainSnapshot(ctx, symbol, expiration)
	})
}
