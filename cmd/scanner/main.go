package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strangle_scanner/internal/broker"
	"github.com/eddiefleurent/strangle_scanner/internal/config"
	"github.com/eddiefleurent/strangle_scanner/internal/metrics"
	"github.com/eddiefleurent/strangle_scanner/internal/mock"
	"github.com/eddiefleurent/strangle_scanner/internal/orders"
	"github.com/eddiefleurent/strangle_scanner/internal/retry"
	"github.com/eddiefleurent/strangle_scanner/internal/scanner"
	"github.com/eddiefleurent/strangle_scanner/internal/server"
)

// providers groups the data sources and the optional order placer built from
// the provider section.
type providers struct {
	market  broker.MarketData
	history broker.HistoryProvider
	placer  broker.OrderPlacer
}

func main() {
	var (
		configPath string
		scanOnce   bool
		symbolsArg string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&scanOnce, "scan", false, "Run a single scan, print the candidates as JSON and exit")
	flag.StringVar(&symbolsArg, "symbols", "", "Comma-separated symbols overriding scan.symbols")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if symbols := parseSymbols(symbolsArg); len(symbols) > 0 {
		cfg.Scan.Symbols = symbols
	}

	logger := newLogger(cfg)
	logger.WithFields(logrus.Fields{
		"mode":     cfg.Environment.Mode,
		"provider": cfg.Provider.Name,
		"trading":  cfg.Trading.Enabled,
	}).Info("Starting strangle scanner")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	p := buildProviders(cfg, logger)
	scan := scanner.New(p.market, logger, m, cfg.ScannerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if scanOnce {
		if err := runOnce(ctx, scan, cfg, os.Stdout); err != nil {
			logger.WithError(err).Fatal("Scan failed")
		}
		return
	}

	if !cfg.IsPaperTrading() && p.placer != nil {
		logger.Warn("LIVE TRADING MODE - orders submitted through /api/trade reach the brokerage")
	}
	mgr := orders.NewManager(p.placer, logger, m, orders.Config{Tag: cfg.Trading.Tag})

	srv := server.NewServer(server.Config{
		AuthToken:      cfg.Server.AuthToken,
		Symbols:        cfg.Scan.Symbols,
		Defaults:       cfg.Scan.Defaults,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.RequestTimeout(),
	}, server.Dependencies{
		Scanner:  scan,
		History:  p.history,
		Orders:   mgr,
		Gatherer: reg,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server error")
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Graceful shutdown failed")
		}
	}

	logger.Info("Scanner stopped successfully")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if cfg.Environment.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// buildProviders assembles the market-data stack. Tradier calls are retried
// and the retried calls sit behind a circuit breaker; the mock provider is
// used as is.
func buildProviders(cfg *config.Config, logger *logrus.Logger) providers {
	if cfg.Provider.Name == config.ProviderMock {
		data := mock.NewDataProvider()
		return providers{market: data, history: data}
	}

	api := broker.NewTradierAPIWithBaseURL(
		cfg.Provider.APIKey,
		cfg.Provider.AccountID,
		cfg.Provider.Sandbox,
		cfg.Provider.APIEndpoint,
		cfg.RateLimits(),
	).WithTimeout(cfg.ProviderTimeout()).WithLogger(logger)
	client := broker.NewTradierClient(api)

	retried := retry.NewMarketData(client, retry.NewClient(logger))
	p := providers{
		market:  broker.NewCircuitBreakerMarketData(retried, broker.DefaultCircuitBreakerSettings(), logger),
		history: client,
	}
	if cfg.Trading.Enabled {
		p.placer = client
	}
	return p
}

func runOnce(ctx context.Context, scan *scanner.Scanner, cfg *config.Config, out io.Writer) error {
	candidates, err := scan.Scan(ctx, cfg.Scan.Symbols, cfg.Scan.Defaults)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(candidates); err != nil {
		return fmt.Errorf("writing candidates: %w", err)
	}
	return nil
}

func parseSymbols(arg string) []string {
	var symbols []string
	for _, s := range strings.Split(arg, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}
