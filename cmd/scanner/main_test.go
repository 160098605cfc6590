package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strangle_scanner/internal/broker"
	"github.com/eddiefleurent/strangle_scanner/internal/config"
	"github.com/eddiefleurent/strangle_scanner/internal/mock"
)

func TestParseSymbols(t *testing.T) {
	assert.Equal(t, []string{"SPY", "QQQ"}, parseSymbols(" spy, ,qqq,"))
	assert.Empty(t, parseSymbols(""))
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Environment.LogLevel = "debug"
	cfg.Environment.LogFormat = "json"

	logger := newLogger(&cfg)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestBuildProviders_Mock(t *testing.T) {
	cfg := config.Default()
	p := buildProviders(&cfg, logrus.New())

	assert.IsType(t, &mock.DataProvider{}, p.market)
	assert.NotNil(t, p.history)
	assert.Nil(t, p.placer)
}

func TestBuildProviders_Tradier(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.Name = config.ProviderTradier
	cfg.Provider.APIKey = "key"
	cfg.Provider.AccountID = "VA000000"
	require.NoError(t, cfg.Validate())

	p := buildProviders(&cfg, logrus.New())
	assert.IsType(t, &broker.CircuitBreakerMarketData{}, p.market)
	assert.IsType(t, &broker.TradierClient{}, p.history)
	assert.Nil(t, p.placer, "trading disabled keeps orders simulated")

	cfg.Trading.Enabled = true
	require.NoError(t, cfg.Validate())
	p = buildProviders(&cfg, logrus.New())
	assert.NotNil(t, p.placer)
}
