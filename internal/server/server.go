// Package server exposes the scanner, historical prices and the order path
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strangle_scanner/internal/broker"
	"github.com/eddiefleurent/strangle_scanner/internal/models"
	"github.com/eddiefleurent/strangle_scanner/internal/orders"
)

// maxBodyBytes bounds request bodies on the JSON endpoints.
const maxBodyBytes = 1 << 20

// DefaultChartPeriod is used when a chart request names no period.
const DefaultChartPeriod = "6mo"

// chartPeriods maps a period name to how far back it reaches.
var chartPeriods = map[string]func(time.Time) time.Time{
	"1mo": func(t time.Time) time.Time { return t.AddDate(0, -1, 0) },
	"3mo": func(t time.Time) time.Time { return t.AddDate(0, -3, 0) },
	"6mo": func(t time.Time) time.Time { return t.AddDate(0, -6, 0) },
	"1y":  func(t time.Time) time.Time { return t.AddDate(-1, 0, 0) },
	"2y":  func(t time.Time) time.Time { return t.AddDate(-2, 0, 0) },
}

// ScanRunner runs a strangle scan.
type ScanRunner interface {
	Scan(ctx context.Context, symbols []string, params models.ScanParameters) ([]models.StrangleCandidate, error)
}

// OrderSubmitter accepts strangle orders and lists past confirmations.
type OrderSubmitter interface {
	Submit(ctx context.Context, req orders.StrangleOrderRequest) (*orders.Confirmation, error)
	Orders() []orders.Confirmation
	Live() bool
}

// Server is the HTTP front end.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	scanner  ScanRunner
	history  broker.HistoryProvider
	orders   OrderSubmitter
	gatherer prometheus.Gatherer
	logger   *logrus.Logger
	now      func() time.Time
	config   Config
}

// Config holds the listener settings and the scan defaults served to clients.
type Config struct {
	AuthToken      string
	Symbols        []string
	Defaults       models.ScanParameters
	Port           int
	RequestTimeout time.Duration
}

// Dependencies are the components the handlers call into. Gatherer may be nil,
// in which case /metrics serves the default registry. Routes whose component
// is nil answer 503.
type Dependencies struct {
	Scanner  ScanRunner
	History  broker.HistoryProvider
	Orders   OrderSubmitter
	Gatherer prometheus.Gatherer
}

// NewServer wires the routes.
func NewServer(cfg Config, deps Dependencies, logger *logrus.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:   chi.NewRouter(),
		scanner:  deps.Scanner,
		history:  deps.History,
		orders:   deps.Orders,
		gatherer: gatherer,
		logger:   logger,
		now:      time.Now,
		config:   cfg,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.config.RequestTimeout))

	if s.config.AuthToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/defaults", s.handleDefaults)
		r.Post("/scan", s.handleScan)
		r.Post("/chart", s.handleChart)
		r.Post("/trade", s.handleTrade)
		r.Get("/orders", s.handleOrders)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.config.AuthToken {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting scanner server on port %d", s.config.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type scanRequest struct {
	Symbols []string              `json:"symbols"`
	Params  models.ScanParameters `json:"params"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	// Fields absent from params keep the configured defaults.
	req := scanRequest{Params: s.config.Defaults}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbols := req.Symbols
	if symbols == nil {
		symbols = s.config.Symbols
	}

	if s.scanner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "scanning is not available")
		return
	}
	candidates, err := s.scanner.Scan(r.Context(), symbols, req.Params)
	if err != nil {
		var vErr *models.ValidationError
		switch {
		case errors.As(err, &vErr):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			s.writeError(w, http.StatusGatewayTimeout, "scan did not finish in time")
		default:
			s.logger.WithError(err).Error("Scan failed")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleDefaults(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"params":  s.config.Defaults,
		"symbols": s.config.Symbols,
	})
}

type chartRequest struct {
	Symbol string `json:"symbol"`
	Period string `json:"period"`
}

type chartResponse struct {
	Symbol string            `json:"symbol"`
	Period string            `json:"period"`
	Bars   []models.PriceBar `json:"bars"`
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	var req chartRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	period := strings.ToLower(strings.TrimSpace(req.Period))
	if period == "" {
		period = DefaultChartPeriod
	}
	since, ok := chartPeriods[period]
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported period %q", req.Period))
		return
	}
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "historical prices are not available")
		return
	}

	end := s.now().UTC()
	bars, err := s.history.GetHistory(r.Context(), symbol, since(end), end)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Warn("Chart data fetch failed")
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("fetching history for %s: %v", symbol, err))
		return
	}
	if bars == nil {
		bars = []models.PriceBar{}
	}
	s.writeJSON(w, http.StatusOK, chartResponse{Symbol: symbol, Period: period, Bars: bars})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req orders.StrangleOrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.orders == nil {
		s.writeError(w, http.StatusServiceUnavailable, "order submission is not available")
		return
	}
	conf, err := s.orders.Submit(r.Context(), req)
	if err != nil {
		var vErr *models.ValidationError
		var fetchErr *models.ExternalFetchError
		switch {
		case errors.As(err, &vErr):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &fetchErr):
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, conf)
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	if s.orders == nil {
		s.writeError(w, http.StatusServiceUnavailable, "order submission is not available")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"orders": s.orders.Orders(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	mode := orders.ModeSimulated
	if s.orders != nil && s.orders.Live() {
		mode = orders.ModeLive
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"timestamp":  s.now().Unix(),
		"order_mode": mode,
	})
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}
