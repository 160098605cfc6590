// Package retry re-issues provider calls that fail with transient errors.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strangle_scanner/internal/broker"
	"github.com/eddiefleurent/strangle_scanner/internal/models"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     2,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

type Client struct {
	logger *logrus.Logger
	config Config
}

func NewClient(logger *logrus.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		logger: logger,
		config: cfg,
	}
}

// Do runs fn until it succeeds, fails permanently, or the retry budget or ctx
// runs out. The caller's deadline bounds the whole sequence.
func (c *Client) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				c.logger.WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).Debug("Retry succeeded")
			}
			return nil
		}

		lastErr = err
		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).WithError(err).Debug("Transient error detected, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = c.calculateNextBackoff(backoff)
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}

	return lastErr
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	var shapeErr *models.DataShapeError
	if errors.As(err, &shapeErr) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"network",
		"dns",
		"tcp",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// MarketData retries each call of the wrapped provider through a Client.
type MarketData struct {
	data   broker.MarketData
	client *Client
}

var _ broker.MarketData = (*MarketData)(nil)

func NewMarketData(data broker.MarketData, client *Client) *MarketData {
	return &MarketData{data: data, client: client}
}

func (m *MarketData) GetSpotPrice(ctx context.Context, symbol string) (float64, error) {
	var spot float64
	err := m.client.Do(ctx, "spot:"+symbol, func(ctx context.Context) error {
		var err error
		spot, err = m.data.GetSpotPrice(ctx, symbol)
		return err
	})
	return spot, err
}

func (m *MarketData) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	var exps []string
	err := m.client.Do(ctx, "expirations:"+symbol, func(ctx context.Context) error {
		var err error
		exps, err = m.data.GetExpirations(ctx, symbol)
		return err
	})
	return exps, err
}

func (m *MarketData) GetChainSnapshot(ctx context.Context, symbol, expiration string) (*models.ChainSnapshot, error) {
	var snap *models.ChainSnapshot
	err := m.client.Do(ctx, "chain:"+symbol+":"+expiration, func(ctx context.Context) error {
		var err error
		snap, err = m.data.GetChainSnapshot(ctx, symbol, expiration)
		return err
	})
	return snap, err
}
