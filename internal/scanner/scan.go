package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/strangle_scanner/internal/broker"
	"github.com/eddiefleurent/strangle_scanner/internal/metrics"
	"github.com/eddiefleurent/strangle_scanner/internal/models"
)

// Config bounds the work a single scan may do.
type Config struct {
	Filter        ChainFilter
	MaxSymbols    int
	Workers       int
	FetchTimeout  time.Duration
	SymbolTimeout time.Duration
	// Location is the market time zone days to expiration are counted in;
	// nil means UTC.
	Location *time.Location
}

// DefaultConfig caps a scan at 5 symbols processed 4 at a time, each symbol
// given at most 30s.
var DefaultConfig = Config{
	MaxSymbols:    5,
	Workers:       4,
	FetchTimeout:  10 * time.Second,
	SymbolTimeout: 30 * time.Second,
}

// Scanner runs strangle scans against a market-data provider.
type Scanner struct {
	data    broker.MarketData
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	config  Config
}

// New creates a Scanner. m may be nil.
func New(data broker.MarketData, logger *logrus.Logger, m *metrics.Metrics, config ...Config) *Scanner {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = DefaultConfig.MaxSymbols
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig.Workers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig.FetchTimeout
	}
	if cfg.SymbolTimeout <= 0 {
		cfg.SymbolTimeout = DefaultConfig.SymbolTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scanner{
		data:    data,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		config:  cfg,
	}
}

// WithClock replaces the wall clock used for days-to-expiration.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	if now != nil {
		s.now = now
	}
	return s
}

// Scan fetches, filters and pairs every symbol and returns all candidates
// ordered by average IV, highest first. A failing or slow symbol contributes
// nothing and does not fail the scan; only invalid params or a cancelled ctx
// do. When ctx reaches its deadline the symbols finished so far are returned.
func (s *Scanner) Scan(ctx context.Context, symbols []string, params models.ScanParameters) ([]models.StrangleCandidate, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	symbols = NormalizeSymbols(symbols, s.config.MaxSymbols)
	done := s.metrics.ScanStarted()
	now := s.now()

	results := make([][]models.StrangleCandidate, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			symCtx, cancel := context.WithTimeout(gctx, s.config.SymbolTimeout)
			defer cancel()
			candidates, err := s.scanSymbol(symCtx, symbol, now, params)
			if err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					return ctx.Err()
				}
				s.logger.WithField("symbol", symbol).WithError(err).Warn("Skipping symbol after error")
				s.metrics.SymbolFailed(errorType(err))
				return nil
			}
			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		done(0)
		return nil, err
	}

	merged := make([]models.StrangleCandidate, 0)
	for _, r := range results {
		merged = append(merged, r...)
	}
	RankByIV(merged)

	done(len(merged))
	s.logger.WithFields(logrus.Fields{
		"symbols":    len(symbols),
		"candidates": len(merged),
	}).Info("Scan complete")
	return merged, nil
}

func (s *Scanner) scanSymbol(ctx context.Context, symbol string, now time.Time,
	params models.ScanParameters) ([]models.StrangleCandidate, error) {
	log := s.logger.WithField("symbol", symbol)

	spot, err := s.spotPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(spot) || spot <= 0 || spot < params.MinUnderlyingPrice || spot > params.MaxUnderlyingPrice {
		log.WithField("price", spot).Debug("Underlying price outside band")
		s.metrics.SymbolSkipped("price_band")
		return nil, nil
	}

	expirations, err := s.expirations(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(expirations) == 0 {
		log.Debug("No expirations listed")
		s.metrics.SymbolSkipped("no_expirations")
		return nil, nil
	}

	var out []models.StrangleCandidate
	for _, exp := range expirations {
		dte, err := DaysToExpirationIn(exp, now, s.config.Location)
		if err != nil {
			return nil, &models.DataShapeError{Symbol: symbol, Expiration: exp, Reason: err.Error()}
		}
		if dte < params.MinDTE || dte > params.MaxDTE {
			continue
		}

		snapshot, err := s.chainSnapshot(ctx, symbol, exp)
		if err != nil {
			return nil, err
		}
		calls, puts, err := s.config.Filter.Filter(snapshot, spot, dte, params)
		if err != nil {
			return nil, err
		}
		candidates, err := PairAndRank(calls, puts, symbol, spot, exp, dte, params)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"expiration": exp,
			"dte":        dte,
			"calls":      len(calls),
			"puts":       len(puts),
			"candidates": len(candidates),
		}).Debug("Expiration scanned")
		out = append(out, candidates...)
	}
	return out, nil
}

func (s *Scanner) spotPrice(ctx context.Context, symbol string) (float64, error) {
	var spot float64
	err := s.fetch(ctx, "spot", symbol, func(ctx context.Context) error {
		var err error
		spot, err = s.data.GetSpotPrice(ctx, symbol)
		return err
	})
	return spot, err
}

func (s *Scanner) expirations(ctx context.Context, symbol string) ([]string, error) {
	var exps []string
	err := s.fetch(ctx, "expirations", symbol, func(ctx context.Context) error {
		var err error
		exps, err = s.data.GetExpirations(ctx, symbol)
		return err
	})
	return exps, err
}

func (s *Scanner) chainSnapshot(ctx context.Context, symbol, expiration string) (*models.ChainSnapshot, error) {
	var snap *models.ChainSnapshot
	err := s.fetch(ctx, "chain", symbol, func(ctx context.Context) error {
		var err error
		snap, err = s.data.GetChainSnapshot(ctx, symbol, expiration)
		return err
	})
	return snap, err
}

// fetch bounds one provider call by FetchTimeout and wraps failures other
// than malformed data in an ExternalFetchError.
func (s *Scanner) fetch(ctx context.Context, op, symbol string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	s.metrics.ObserveFetch(op, time.Since(start), err)
	if err == nil {
		return nil
	}

	var shapeErr *models.DataShapeError
	if errors.As(err, &shapeErr) {
		return err
	}
	return &models.ExternalFetchError{Op: op, Symbol: symbol, Err: err}
}

// NormalizeSymbols trims and upper-cases tickers, drops blanks and keeps at
// most limit entries. A non-positive limit keeps all of them.
func NormalizeSymbols(symbols []string, limit int) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// DaysToExpiration counts whole calendar days from now until midnight UTC of
// the expiration date. Past expirations give negative values.
func DaysToExpiration(expiration string, now time.Time) (int, error) {
	return DaysToExpirationIn(expiration, now, time.UTC)
}

// DaysToExpirationIn is DaysToExpiration with the expiration's midnight taken
// in loc, so the day count follows that market's wall clock. A nil loc means UTC.
func DaysToExpirationIn(expiration string, now time.Time, loc *time.Location) (int, error) {
	if loc == nil {
		loc = time.UTC
	}
	exp, err := time.ParseInLocation(models.ExpirationLayout, expiration, loc)
	if err != nil {
		return 0, fmt.Errorf("invalid expiration %q: %w", expiration, err)
	}
	return int(math.Floor(exp.Sub(now).Hours() / 24)), nil
}

func errorType(err error) string {
	var (
		fetchErr *models.ExternalFetchError
		shapeErr *models.DataShapeError
		divErr   *models.DivisionByZeroError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &shapeErr):
		return "data_shape"
	case errors.As(err, &divErr):
		return "division_by_zero"
	default:
		return "other"
	}
}
