package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Status: 429, Body: "too many requests"}
	want := "API error 429: too many requests"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestNewTradierAPIWithBaseURL_DefaultsAndNormalization(t *testing.T) {
	type args struct {
		apiKey    string
		accountID string
		sandbox   bool
		baseURL   string
	}
	tests := []struct {
		name        string
		args        args
		wantBaseURL string
		wantLimits  RateLimits
	}{
		{
			name:        "sandbox default baseURL and limits",
			args:        args{"k", "acc", true, ""},
			wantBaseURL: "https://sandbox.tradier.com/v1",
			wantLimits:  RateLimits{MarketData: 120, Trading: 120, Standard: 120},
		},
		{
			name:        "production default baseURL and limits",
			args:        args{"k", "acc", false, ""},
			wantBaseURL: "https://api.tradier.com/v1",
			wantLimits:  RateLimits{MarketData: 500, Trading: 500, Standard: 500},
		},
		{
			name:        "custom baseURL preserved and trimmed",
			args:        args{"k", "acc", false, "https://example.test/api/"},
			wantBaseURL: "https://example.test/api",
			wantLimits:  RateLimits{MarketData: 500, Trading: 500, Standard: 500},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := NewTradierAPIWithBaseURL(tt.args.apiKey, tt.args.accountID, tt.args.sandbox, tt.args.baseURL)
			if api.baseURL != tt.wantBaseURL {
				t.Fatalf("baseURL = %q, want %q", api.baseURL, tt.wantBaseURL)
			}
			if api.rateLimits != tt.wantLimits {
				t.Fatalf("rateLimits = %+v, want %+v", api.rateLimits, tt.wantLimits)
			}
			for _, class := range []endpointClass{classMarketData, classTrading, classStandard} {
				if api.limiters[class] == nil {
					t.Fatalf("limiter for class %d not configured", class)
				}
			}
		})
	}
}

func TestNewTradierAPIWithBaseURL_CustomLimitsOverride(t *testing.T) {
	custom := RateLimits{MarketData: 60, Trading: 2, Standard: 3}
	api := NewTradierAPIWithBaseURL("k", "acc", false, "", custom)
	if api.rateLimits != custom {
		t.Fatalf("rateLimits = %+v, want %+v", api.rateLimits, custom)
	}
	if got := float64(api.limiters[classMarketData].Limit()); got != 1 {
		t.Fatalf("market data limit = %v/s, want 1/s", got)
	}
}

func TestPerMinuteLimiter_DisabledWhenNonPositive(t *testing.T) {
	l := perMinuteLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}

func TestTradierNormalizeDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"day", "day", false},
		{"DAY", "day", false},
		{"  day  ", "day", false},
		{"gtc", "gtc", false},
		{"GTC", "gtc", false},
		{"good-til-cancelled", "gtc", false},
		{"goodtilcancelled", "gtc", false},
		{"pre", "pre", false},
		{"pre-market", "pre", false},
		{"extended-hours-pre", "pre", false},
		{"post", "post", false},
		{"postmarket", "post", false},
		{"ioc", "", true},
		{"gtd", "", true},
		{"", "", true},
		{"week", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeDuration(tt.in)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %q", tt.in)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("normalizeDuration(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func newTestAPIWithServer(handler http.HandlerFunc) (*TradierAPI, *httptest.Server) {
	s := httptest.NewServer(handler)
	api := NewTradierAPIWithBaseURL("test-key", "ACC123", false, s.URL)
	// Use server's client directly to ensure proper transport handling
	api = api.WithHTTPClient(s.Client())
	return api, s
}

func TestMakeRequestCtx_SuccessGET(t *testing.T) {
	type payload struct {
		Foo string `json:"foo"`
	}
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-key")
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want application/json", got)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(payload{Foo: "bar"})
	})
	defer srv.Close()

	var out payload
	if err := api.makeRequestCtx(context.Background(), classStandard, http.MethodGet, api.baseURL+"/ok", nil, &out); err != nil {
		t.Fatalf("makeRequestCtx error: %v", err)
	}
	if out.Foo != "bar" {
		t.Fatalf("decoded = %+v, want Foo=bar", out)
	}
}

func TestMakeRequestCtx_SuccessPOST_FormEncoded(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q, want application/x-www-form-urlencoded", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if got := string(body); got != "a=1&b=two" {
			t.Errorf("body = %q, want form-encoded", got)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	defer srv.Close()

	var out map[string]any
	params := url.Values{"a": []string{"1"}, "b": []string{"two"}}
	if err := api.makeRequestCtx(context.Background(), classTrading, http.MethodPost, api.baseURL+"/create", params, &out); err != nil {
		t.Fatalf("makeRequestCtx POST error: %v", err)
	}
	if ok, _ := out["ok"].(bool); !ok {
		t.Fatalf("decoded ok=false, want true")
	}
}

func TestMakeRequestCtx_Non2xxReturnsAPIError(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		http.Error(w, "boom", http.StatusTooManyRequests)
	})
	defer srv.Close()

	var out map[string]any
	err := api.makeRequestCtx(context.Background(), classMarketData, http.MethodGet, api.baseURL+"/err", nil, &out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || !strings.Contains(apiErr.Body, "retry-after: 5") {
		t.Fatalf("APIError = %+v, want status 429 with retry-after", apiErr)
	}
}

func TestMakeRequestCtx_EmptyBodyEOF(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	var out map[string]any
	if err := api.makeRequestCtx(context.Background(), classStandard, http.MethodGet, api.baseURL+"/empty", nil, &out); err != nil {
		t.Fatalf("empty body should not error, got %v", err)
	}
}

func TestMakeRequestCtx_ContextCancel(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var out map[string]any
	err := api.makeRequestCtx(ctx, classMarketData, http.MethodGet, api.baseURL+"/slow", nil, &out)
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestGetQuoteCtx_SingleAndArrayAndEmpty(t *testing.T) {
	single := `{"quotes":{"quote":{"symbol":"AAPL","description":"Apple","type":"stock","bid":10,"ask":12,"last":11}}}`
	array := `{"quotes":{"quote":[{"symbol":"AAPL","description":"Apple","type":"stock","bid":10,"ask":12,"last":11}]}}`
	empty := `{"quotes":{"quote":[]}}`

	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"single", single, false},
		{"array", array, false},
		{"empty", empty, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
				if !strings.Contains(r.URL.RawQuery, "symbols=AAPL") {
					t.Errorf("missing symbols query: %s", r.URL.RawQuery)
				}
				if !strings.Contains(r.URL.RawQuery, "greeks=false") {
					t.Errorf("missing greeks=false: %s", r.URL.RawQuery)
				}
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(tc.body))
			})
			defer srv.Close()

			q, err := api.GetQuoteCtx(context.Background(), "AAPL")
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.wantErr && (q.Symbol != "AAPL" || q.Last != 11) {
				t.Fatalf("quote = %+v, want AAPL last 11", q)
			}
		})
	}
}

func TestGetExpirationsCtx(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/markets/options/expirations") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"expirations":{"date":["2025-09-19","2025-10-17"]}}`))
	})
	defer srv.Close()

	dates, err := api.GetExpirationsCtx(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetExpirationsCtx error: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2025-09-19" || dates[1] != "2025-10-17" {
		t.Fatalf("dates = %v", dates)
	}
}

func TestGetExpirationsCtx_SingleAndNull(t *testing.T) {
	cases := map[string]int{
		`{"expirations":{"date":"2025-09-19"}}`: 1,
		`{"expirations":null}`:                  0,
	}
	for body, want := range cases {
		api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		dates, err := api.GetExpirationsCtx(context.Background(), "AAPL")
		srv.Close()
		if err != nil {
			t.Fatalf("body %s: unexpected error %v", body, err)
		}
		if len(dates) != want {
			t.Fatalf("body %s: got %d dates, want %d", body, len(dates), want)
		}
	}
}

func TestGetOptionChainCtx_NullableFields(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("greeks") != "true" {
			t.Errorf("greeks param = %q, want true", r.URL.Query().Get("greeks"))
		}
		_, _ = w.Write([]byte(`{"options":{"option":[
			{"symbol":"XYZ250117C00110000","option_type":"call","strike":110,"last":1.2,"volume":50,"open_interest":100,"greeks":{"mid_iv":0.35}},
			{"symbol":"XYZ250117P00090000","option_type":"put","strike":90,"last":null,"volume":null,"open_interest":null}
		]}}`))
	})
	defer srv.Close()

	opts, err := api.GetOptionChainCtx(context.Background(), "XYZ", "2025-01-17", true)
	if err != nil {
		t.Fatalf("GetOptionChainCtx error: %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("len = %d, want 2", len(opts))
	}
	if opts[0].Volume == nil || *opts[0].Volume != 50 || opts[0].Last == nil || *opts[0].Last != 1.2 {
		t.Fatalf("call row = %+v", opts[0])
	}
	if opts[1].Volume != nil || opts[1].OpenInterest != nil || opts[1].Last != nil {
		t.Fatalf("put row should carry nulls, got %+v", opts[1])
	}
}

func TestGetHistoricalDataCtx(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("interval") != "daily" || q.Get("start") != "2025-01-01" || q.Get("end") != "2025-01-31" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"history":{"day":{"date":"2025-01-02","open":1,"high":2,"low":0.5,"close":1.5,"volume":100}}}`))
	})
	defer srv.Close()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	points, err := api.GetHistoricalDataCtx(context.Background(), "XYZ", start, end)
	if err != nil {
		t.Fatalf("GetHistoricalDataCtx error: %v", err)
	}
	if len(points) != 1 || points[0].Close != 1.5 || points[0].Volume != 100 {
		t.Fatalf("points = %+v", points)
	}
}

func TestPlaceMultilegOrderCtx_BuildsRequest(t *testing.T) {
	tests := []struct {
		name      string
		order     MultilegOrder
		wantType  string
		wantPrice string
		wantSide  string
	}{
		{
			name: "market buy",
			order: MultilegOrder{
				Symbol: "XYZ", OrderType: "market", Duration: "day", Quantity: 2,
				Legs: []OrderLeg{
					{OptionSymbol: "XYZ250117C00110000", Side: "buy"},
					{OptionSymbol: "XYZ250117P00090000", Side: "buy"},
				},
			},
			wantType: "market",
			wantSide: "buy_to_open",
		},
		{
			name: "limit buy is debit",
			order: MultilegOrder{
				Symbol: "XYZ", OrderType: "limit", Duration: "GTC", Quantity: 1, LimitPrice: 2.3,
				Legs: []OrderLeg{
					{OptionSymbol: "XYZ250117C00110000", Side: "buy"},
					{OptionSymbol: "XYZ250117P00090000", Side: "buy"},
				},
			},
			wantType:  "debit",
			wantPrice: "2.30",
			wantSide:  "buy_to_open",
		},
		{
			name: "limit sell is credit",
			order: MultilegOrder{
				Symbol: "XYZ", OrderType: "limit", Duration: "day", Quantity: 1, LimitPrice: 1.5,
				Legs: []OrderLeg{
					{OptionSymbol: "XYZ250117C00110000", Side: "sell"},
					{OptionSymbol: "XYZ250117P00090000", Side: "sell"},
				},
			},
			wantType:  "credit",
			wantPrice: "1.50",
			wantSide:  "sell_to_open",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/accounts/ACC123/orders" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if err := r.ParseForm(); err != nil {
					t.Errorf("ParseForm: %v", err)
				}
				f := r.PostForm
				if f.Get("class") != "multileg" || f.Get("type") != tt.wantType || f.Get("price") != tt.wantPrice {
					t.Errorf("form = %v", f)
				}
				if f.Get("side[0]") != tt.wantSide || f.Get("side[1]") != tt.wantSide {
					t.Errorf("sides = %q %q", f.Get("side[0]"), f.Get("side[1]"))
				}
				if f.Get("option_symbol[1]") != "XYZ250117P00090000" {
					t.Errorf("option_symbol[1] = %q", f.Get("option_symbol[1]"))
				}
				_, _ = w.Write([]byte(`{"order":{"id":42,"status":"ok"}}`))
			})
			defer srv.Close()

			resp, err := api.PlaceMultilegOrderCtx(context.Background(), tt.order)
			if err != nil {
				t.Fatalf("PlaceMultilegOrderCtx error: %v", err)
			}
			if resp.Order.ID != 42 || resp.Order.Status != "ok" {
				t.Fatalf("resp = %+v", resp)
			}
		})
	}
}

func TestPlaceMultilegOrderCtx_ValidationErrors(t *testing.T) {
	legs := []OrderLeg{{OptionSymbol: "A", Side: "buy"}, {OptionSymbol: "B", Side: "buy"}}
	tests := []struct {
		name  string
		order MultilegOrder
	}{
		{"ioc duration", MultilegOrder{OrderType: "market", Duration: "ioc", Quantity: 1, Legs: legs}},
		{"zero quantity", MultilegOrder{OrderType: "market", Duration: "day", Quantity: 0, Legs: legs}},
		{"single leg", MultilegOrder{OrderType: "market", Duration: "day", Quantity: 1, Legs: legs[:1]}},
		{"bad side", MultilegOrder{OrderType: "market", Duration: "day", Quantity: 1,
			Legs: []OrderLeg{{OptionSymbol: "A", Side: "hold"}, {OptionSymbol: "B", Side: "buy"}}}},
		{"limit without price", MultilegOrder{OrderType: "limit", Duration: "day", Quantity: 1, Legs: legs}},
		{"limit mixed sides", MultilegOrder{OrderType: "limit", Duration: "day", Quantity: 1, LimitPrice: 1,
			Legs: []OrderLeg{{OptionSymbol: "A", Side: "sell"}, {OptionSymbol: "B", Side: "buy"}}}},
		{"stop order", MultilegOrder{OrderType: "stop", Duration: "day", Quantity: 1, Legs: legs}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
				t.Errorf("request should not be sent")
			})
			defer srv.Close()
			if _, err := api.PlaceMultilegOrderCtx(context.Background(), tt.order); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestGetQuoteCtx_UnmatchedSymbol(t *testing.T) {
	api, srv := newTestAPIWithServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"quotes":{"unmatched_symbols":{"symbol":"ZZZZ"}}}`))
	})
	defer srv.Close()

	_, err := api.GetQuoteCtx(context.Background(), "ZZZZ")
	var notFound *SymbolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *SymbolNotFoundError", err)
	}
	if notFound.Symbol != "ZZZZ" {
		t.Errorf("symbol = %q, want ZZZZ", notFound.Symbol)
	}
}
