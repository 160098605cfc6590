// Package broker provides the market-data and order clients the scanner talks to.
// It includes the Tradier REST implementation and resilience wrappers around it.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// SymbolNotFoundError is returned when the provider does not list the ticker.
type SymbolNotFoundError struct {
	Symbol string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("no quote found for symbol: %s", e.Symbol)
}

// endpointClass selects the rate-limit bucket a request is charged against.
type endpointClass int

const (
	classMarketData endpointClass = iota
	classTrading
	classStandard
)

// TradierAPI is a thin client over the Tradier brokerage REST API.
type TradierAPI struct {
	client     *http.Client
	logger     *logrus.Logger
	limiters   map[endpointClass]*rate.Limiter
	apiKey     string
	baseURL    string
	accountID  string
	rateLimits RateLimits
	sandbox    bool
	timeout    time.Duration
}

// RateLimits defines API rate limits for different endpoint categories.
type RateLimits struct {
	MarketData int // requests per minute
	Trading    int // requests per minute
	Standard   int // requests per minute
}

// NewTradierAPI creates a new TradierAPI client with default settings.
func NewTradierAPI(apiKey, accountID string, sandbox bool) *TradierAPI {
	return NewTradierAPIWithBaseURL(apiKey, accountID, sandbox, "")
}

// NewTradierAPIWithBaseURL creates a new TradierAPI client with optional custom baseURL and rate limits
func NewTradierAPIWithBaseURL(
	apiKey, accountID string,
	sandbox bool,
	baseURL string,
	customLimits ...RateLimits,
) *TradierAPI {
	var limits RateLimits

	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	var providedLimits RateLimits
	if len(customLimits) > 0 {
		providedLimits = customLimits[0]
	}

	if providedLimits.MarketData > 0 || providedLimits.Trading > 0 || providedLimits.Standard > 0 {
		limits = providedLimits
	} else if sandbox {
		limits = RateLimits{
			MarketData: 120,
			Trading:    120,
			Standard:   120,
		}
	} else {
		limits = RateLimits{
			MarketData: 500,
			Trading:    500,
			Standard:   500,
		}
	}

	defaultTimeout := 10 * time.Second
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &TradierAPI{
		apiKey:     apiKey,
		baseURL:    baseURL,
		accountID:  accountID,
		client:     &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		sandbox:    sandbox,
		rateLimits: limits,
		limiters: map[endpointClass]*rate.Limiter{
			classMarketData: perMinuteLimiter(limits.MarketData),
			classTrading:    perMinuteLimiter(limits.Trading),
			classStandard:   perMinuteLimiter(limits.Standard),
		},
		timeout: defaultTimeout,
	}
}

// perMinuteLimiter turns a requests-per-minute budget into a token bucket.
// A non-positive budget disables limiting for that class.
func perMinuteLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierAPI) WithHTTPClient(c *http.Client) *TradierAPI {
	if c != nil {
		t.client = c
	}
	return t
}

// WithTimeout sets the HTTP client timeout duration.
func (t *TradierAPI) WithTimeout(timeout time.Duration) *TradierAPI {
	if timeout <= 0 {
		return t
	}
	t.timeout = timeout
	if t.client != nil {
		t.client.Timeout = timeout
	}
	return t
}

// WithLogger routes request diagnostics to logger.
func (t *TradierAPI) WithLogger(logger *logrus.Logger) *TradierAPI {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// ============ API Response Structures ============

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// OptionChainResponse represents the API response for option chain requests.
type OptionChainResponse struct {
	Options struct {
		Option singleOrArray[Option] `json:"option"`
	} `json:"options"`
}

// Option represents an option contract from the Tradier API.
// Last, Volume and OpenInterest are nil when Tradier reports null.
type Option struct {
	Greeks         *Greeks  `json:"greeks,omitempty"`
	Last           *float64 `json:"last"`
	Volume         *int64   `json:"volume"`
	OpenInterest   *int64   `json:"open_interest"`
	Symbol         string   `json:"symbol"`
	Description    string   `json:"description"`
	OptionType     string   `json:"option_type"`
	ExpirationDate string   `json:"expiration_date"`
	Underlying     string   `json:"underlying"`
	Bid            float64  `json:"bid"`
	Ask            float64  `json:"ask"`
	Strike         float64  `json:"strike"`
}

// Greeks contains option Greeks data from the Tradier API.
type Greeks struct {
	UpdatedAt string  `json:"updated_at"`
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Theta     float64 `json:"theta"`
	Vega      float64 `json:"vega"`
	BidIV     float64 `json:"bid_iv"`
	MidIV     float64 `json:"mid_iv"`
	AskIV     float64 `json:"ask_iv"`
	SmvVol    float64 `json:"smv_vol"`
}

// QuotesResponse represents the quotes response from the Tradier API.
type QuotesResponse struct {
	Quotes struct {
		Quote singleOrArray[QuoteItem] `json:"quote"`
	} `json:"quotes"`
}

// QuoteItem represents a single quote item from the Tradier API.
type QuoteItem struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Last        float64 `json:"last"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	Close       float64 `json:"close"`
	PrevClose   float64 `json:"prevclose"`
	Volume      int64   `json:"volume"`
}

// ExpirationsResponse represents the expirations response from the Tradier API.
type ExpirationsResponse struct {
	Expirations struct {
		Date singleOrArray[string] `json:"date"`
	} `json:"expirations"`
}

// HistoricalDataResponse represents the response from historical data API
type HistoricalDataResponse struct {
	History struct {
		Day singleOrArray[struct {
			Date   string  `json:"date"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume int64   `json:"volume"`
		}] `json:"day"`
	} `json:"history"`
}

// OrderResponse represents the order response from the Tradier API.
type OrderResponse struct {
	Order struct {
		ID        int    `json:"id"`
		Status    string `json:"status"`
		PartnerID string `json:"partner_id"`
	} `json:"order"`
}

// ============ API Methods ============

// GetQuoteCtx retrieves the current market quote for a symbol.
func (t *TradierAPI) GetQuoteCtx(ctx context.Context, symbol string) (*QuoteItem, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response QuotesResponse
	if err := t.makeRequestCtx(ctx, classMarketData, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	quotes := response.Quotes.Quote
	if len(quotes) == 0 {
		return nil, &SymbolNotFoundError{Symbol: symbol}
	}

	first := quotes[0]
	return &first, nil
}

// GetExpirationsCtx retrieves available expiration dates for options on a symbol.
func (t *TradierAPI) GetExpirationsCtx(ctx context.Context, symbol string) ([]string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")
	endpoint := t.baseURL + "/markets/options/expirations?" + params.Encode()

	var response ExpirationsResponse
	if err := t.makeRequestCtx(ctx, classMarketData, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	return []string(response.Expirations.Date), nil
}

// GetOptionChainCtx retrieves the option chain for a symbol and expiration date.
func (t *TradierAPI) GetOptionChainCtx(ctx context.Context, symbol, expiration string, greeks bool) ([]Option, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration)
	params.Set("greeks", strconv.FormatBool(greeks))
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response OptionChainResponse
	if err := t.makeRequestCtx(ctx, classMarketData, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	return []Option(response.Options.Option), nil
}

// GetHistoricalDataCtx retrieves daily OHLCV bars between two dates.
func (t *TradierAPI) GetHistoricalDataCtx(ctx context.Context, symbol string, startDate, endDate time.Time) ([]HistoricalDataPoint, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", "daily")
	params.Add("start", startDate.Format("2006-01-02"))
	params.Add("end", endDate.Format("2006-01-02"))
	endpoint := t.baseURL + "/markets/history?" + params.Encode()

	var response HistoricalDataResponse
	if err := t.makeRequestCtx(ctx, classMarketData, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}

	dataPoints := make([]HistoricalDataPoint, len(response.History.Day))
	for i, day := range response.History.Day {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %s: %w", day.Date, err)
		}

		dataPoints[i] = HistoricalDataPoint{
			Date:   date,
			Open:   day.Open,
			High:   day.High,
			Low:    day.Low,
			Close:  day.Close,
			Volume: day.Volume,
		}
	}

	return dataPoints, nil
}

// HistoricalDataPoint represents a single historical data point
type HistoricalDataPoint struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// normalizeDuration normalizes and validates duration parameter
func normalizeDuration(duration string) (string, error) {
	if duration == "" {
		return "", fmt.Errorf("duration cannot be empty")
	}

	normalized := strings.ToLower(strings.TrimSpace(duration))

	switch normalized {
	case "good-til-cancelled", "goodtilcancelled", "gtc":
		return "gtc", nil
	case "day":
		return "day", nil
	case "pre", "pre-market", "premarket", "extended-hours-pre", "prehours":
		return "pre", nil
	case "post", "post-market", "postmarket", "extended-hours-post", "posthours":
		return "post", nil
	default:
		return "", fmt.Errorf("invalid duration '%s': must be one of 'day', 'gtc', 'pre', or 'post'", duration)
	}
}

// MultilegOrder is an opening order for several option legs on one underlying.
type MultilegOrder struct {
	Symbol     string
	OrderType  string // market | limit
	Duration   string
	Tag        string
	Legs       []OrderLeg
	LimitPrice float64
	Quantity   int
}

// OrderLeg is one OCC-encoded option leg of a MultilegOrder.
type OrderLeg struct {
	OptionSymbol string
	Side         string // buy | sell
}

// PlaceMultilegOrderCtx submits an opening multileg order.
// Limit orders are sent as debit when every leg buys and credit when every leg sells.
func (t *TradierAPI) PlaceMultilegOrderCtx(ctx context.Context, order MultilegOrder) (*OrderResponse, error) {
	duration, err := normalizeDuration(order.Duration)
	if err != nil {
		return nil, err
	}
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity: %d (must be > 0)", order.Quantity)
	}
	if len(order.Legs) < 2 {
		return nil, fmt.Errorf("multileg order needs at least 2 legs, got %d", len(order.Legs))
	}

	params := url.Values{}
	params.Add("class", "multileg")
	params.Add("symbol", order.Symbol)
	params.Add("duration", duration)

	buys, sells := 0, 0
	for i, leg := range order.Legs {
		var side string
		switch strings.ToLower(leg.Side) {
		case "buy":
			side = "buy_to_open"
			buys++
		case "sell":
			side = "sell_to_open"
			sells++
		default:
			return nil, fmt.Errorf("invalid side %q for leg %d", leg.Side, i)
		}
		params.Add(fmt.Sprintf("option_symbol[%d]", i), leg.OptionSymbol)
		params.Add(fmt.Sprintf("side[%d]", i), side)
		params.Add(fmt.Sprintf("quantity[%d]", i), strconv.Itoa(order.Quantity))
	}

	switch strings.ToLower(order.OrderType) {
	case "market":
		params.Add("type", "market")
	case "limit":
		if order.LimitPrice <= 0 {
			return nil, fmt.Errorf("invalid limit price: %.2f (must be > 0)", order.LimitPrice)
		}
		switch {
		case sells == 0:
			params.Add("type", "debit")
		case buys == 0:
			params.Add("type", "credit")
		default:
			return nil, fmt.Errorf("limit multileg orders must be all buys or all sells")
		}
		params.Add("price", fmt.Sprintf("%.2f", order.LimitPrice))
	default:
		return nil, fmt.Errorf("invalid order type %q", order.OrderType)
	}

	if order.Tag != "" {
		params.Add("tag", order.Tag)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)
	var response OrderResponse
	if err := t.makeRequestCtx(ctx, classTrading, http.MethodPost, endpoint, params, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// makeRequestCtx makes a rate-limited HTTP request with context support for timeout/cancellation
func (t *TradierAPI) makeRequestCtx(ctx context.Context, class endpointClass, method, endpoint string,
	params url.Values, response interface{}) error {
	if limiter := t.limiters[class]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "strangle-scanner/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.WithError(err).Warn("Failed to close response body")
		}
	}()

	if remaining := resp.Header.Get("X-Ratelimit-Available"); remaining != "" && t.sandbox {
		t.logger.WithField("remaining", remaining).Debug("Tradier rate limit")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
