// Package config provides configuration management for the strangle scanner.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // market_timezone must resolve in minimal containers

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/strangle_scanner/internal/broker"
	"github.com/eddiefleurent/strangle_scanner/internal/models"
	"github.com/eddiefleurent/strangle_scanner/internal/scanner"
)

// Provider names accepted in provider.name.
const (
	ProviderTradier = "tradier"
	ProviderMock    = "mock"
)

// DefaultSymbols is the universe scanned when a request names no symbols.
var DefaultSymbols = []string{
	"AAPL", "MSFT", "AMZN", "GOOGL", "META",
	"TSLA", "NVDA", "AMD", "INTC", "NFLX",
	"SPY", "QQQ", "IWM", "DIA", "XLF",
	"XLE", "XLK", "XLV", "XLI", "XLU",
	"COIN", "GME", "AMC", "PLTR", "SOFI",
	"DIS", "BA", "JPM", "GS", "MS",
	"XOM", "CVX", "PFE", "JNJ", "UNH",
}

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Provider    ProviderConfig    `yaml:"provider"`
	Scan        ScanConfig        `yaml:"scan"`
	Server      ServerConfig      `yaml:"server"`
	Trading     TradingConfig     `yaml:"trading"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode"`       // paper | live
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// ProviderConfig selects and configures the market-data source.
type ProviderConfig struct {
	Name        string          `yaml:"name"` // tradier | mock
	APIKey      string          `yaml:"api_key"`
	APIEndpoint string          `yaml:"api_endpoint"`
	AccountID   string          `yaml:"account_id"`
	Timeout     string          `yaml:"timeout"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Sandbox     bool            `yaml:"sandbox"`
}

// RateLimitConfig holds per-minute request budgets. Zero keeps the Tradier
// defaults for the account type.
type RateLimitConfig struct {
	MarketData int `yaml:"market_data"`
	Trading    int `yaml:"trading"`
	Standard   int `yaml:"standard"`
}

// ScanConfig holds the default scan thresholds and the scan worker settings.
type ScanConfig struct {
	Defaults          models.ScanParameters `yaml:"defaults"`
	Symbols           []string              `yaml:"symbols"`
	FetchTimeout      string                `yaml:"fetch_timeout"`
	SymbolTimeout     string                `yaml:"symbol_timeout"`
	MarketTimezone    string                `yaml:"market_timezone"`
	MissingDataPolicy string                `yaml:"missing_data_policy"` // exclude | zero
	DeltaMode         string                `yaml:"delta_mode"`          // inert | black_scholes
	MaxSymbols        int                   `yaml:"max_symbols"`
	Workers           int                   `yaml:"workers"`
	RiskFreeRate      float64               `yaml:"risk_free_rate"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	AuthToken      string `yaml:"auth_token"`
	RequestTimeout string `yaml:"request_timeout"`
	Port           int    `yaml:"port"`
}

// TradingConfig controls whether /api/trade reaches the brokerage.
type TradingConfig struct {
	Tag     string `yaml:"tag"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns a configuration that runs against the mock provider.
func Default() Config {
	return Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info", LogFormat: "text"},
		Provider:    ProviderConfig{Name: ProviderMock, Sandbox: true, Timeout: "10s"},
		Scan: ScanConfig{
			Defaults:          models.DefaultScanParameters(),
			Symbols:           append([]string(nil), DefaultSymbols...),
			FetchTimeout:      "10s",
			SymbolTimeout:     "30s",
			MarketTimezone:    "America/New_York",
			MissingDataPolicy: string(scanner.MissingExclude),
			DeltaMode:         string(scanner.DeltaInert),
			MaxSymbols:        scanner.DefaultConfig.MaxSymbols,
			Workers:           scanner.DefaultConfig.Workers,
		},
		Server: ServerConfig{Port: 8080, RequestTimeout: "60s"},
	}
}

// Load reads and parses the configuration file from the specified path.
// Keys absent from the file keep their Default values.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// normalizing case and filling unset values along the way.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	// Provider validation
	switch c.Provider.Name {
	case ProviderMock:
	case ProviderTradier:
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required for the tradier provider")
		}
	default:
		return fmt.Errorf("provider.name must be 'tradier' or 'mock'")
	}
	if d, err := time.ParseDuration(c.Provider.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("provider.timeout must be a positive duration")
	}
	if c.Provider.RateLimit.MarketData < 0 || c.Provider.RateLimit.Trading < 0 || c.Provider.RateLimit.Standard < 0 {
		return fmt.Errorf("provider.rate_limit values must be >= 0")
	}

	// Scan validation
	if err := c.Scan.Defaults.Validate(); err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			return fmt.Errorf("scan.defaults.%s %s", vErr.Field, vErr.Reason)
		}
		return fmt.Errorf("scan.defaults invalid: %w", err)
	}
	if len(c.Scan.Symbols) == 0 {
		return fmt.Errorf("scan.symbols must list at least one symbol")
	}
	if c.Scan.MaxSymbols <= 0 {
		return fmt.Errorf("scan.max_symbols must be > 0")
	}
	if c.Scan.Workers <= 0 {
		return fmt.Errorf("scan.workers must be > 0")
	}
	if d, err := time.ParseDuration(c.Scan.FetchTimeout); err != nil || d <= 0 {
		return fmt.Errorf("scan.fetch_timeout must be a positive duration")
	}
	symbolTimeout, err := time.ParseDuration(c.Scan.SymbolTimeout)
	if err != nil || symbolTimeout <= 0 {
		return fmt.Errorf("scan.symbol_timeout must be a positive duration")
	}
	if _, err := time.LoadLocation(c.Scan.MarketTimezone); err != nil {
		return fmt.Errorf("scan.market_timezone invalid: %w", err)
	}
	if _, err := scanner.ParseMissingDataPolicy(c.Scan.MissingDataPolicy); err != nil {
		return fmt.Errorf("scan.missing_data_policy: %w", err)
	}
	if _, err := scanner.ParseDeltaMode(c.Scan.DeltaMode); err != nil {
		return fmt.Errorf("scan.delta_mode: %w", err)
	}
	if math.IsNaN(c.Scan.RiskFreeRate) || c.Scan.RiskFreeRate < 0 || c.Scan.RiskFreeRate > 1 {
		return fmt.Errorf("scan.risk_free_rate must be between 0 and 1")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	requestTimeout, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil || requestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be a positive duration")
	}
	if symbolTimeout >= requestTimeout {
		return fmt.Errorf("scan.symbol_timeout (%s) must be < server.request_timeout (%s)",
			symbolTimeout, requestTimeout)
	}

	// Trading validation
	if c.Trading.Enabled {
		if c.Provider.Name != ProviderTradier {
			return fmt.Errorf("trading.enabled requires provider.name 'tradier'")
		}
		if c.Provider.AccountID == "" {
			return fmt.Errorf("provider.account_id is required when trading.enabled is true")
		}
	}

	return nil
}

// normalize lower-cases enum values, upper-cases symbols and fills values
// left empty in the file.
func (c *Config) normalize() {
	lower := func(s *string, def string) {
		*s = strings.ToLower(strings.TrimSpace(*s))
		if *s == "" {
			*s = def
		}
	}
	lower(&c.Environment.Mode, "paper")
	lower(&c.Environment.LogLevel, "info")
	lower(&c.Environment.LogFormat, "text")
	lower(&c.Provider.Name, ProviderMock)
	lower(&c.Scan.MissingDataPolicy, string(scanner.MissingExclude))
	lower(&c.Scan.DeltaMode, string(scanner.DeltaInert))
	if strings.TrimSpace(c.Provider.Timeout) == "" {
		c.Provider.Timeout = "10s"
	}
	if strings.TrimSpace(c.Scan.FetchTimeout) == "" {
		c.Scan.FetchTimeout = "10s"
	}
	if strings.TrimSpace(c.Scan.SymbolTimeout) == "" {
		c.Scan.SymbolTimeout = "30s"
	}
	if c.Scan.MarketTimezone = strings.TrimSpace(c.Scan.MarketTimezone); c.Scan.MarketTimezone == "" {
		c.Scan.MarketTimezone = "America/New_York"
	}
	if strings.TrimSpace(c.Server.RequestTimeout) == "" {
		c.Server.RequestTimeout = "60s"
	}

	symbols := make([]string, 0, len(c.Scan.Symbols))
	for _, s := range c.Scan.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	c.Scan.Symbols = symbols
}

// IsPaperTrading returns true if the scanner is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// RequestTimeout returns the per-request deadline of the HTTP server.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// ProviderTimeout returns the HTTP timeout for provider calls.
func (c *Config) ProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// RateLimits converts the configured budgets for the Tradier client.
func (c *Config) RateLimits() broker.RateLimits {
	return broker.RateLimits{
		MarketData: c.Provider.RateLimit.MarketData,
		Trading:    c.Provider.RateLimit.Trading,
		Standard:   c.Provider.RateLimit.Standard,
	}
}

// ScannerConfig builds the scanner settings. Call after Validate.
func (c *Config) ScannerConfig() scanner.Config {
	policy, _ := scanner.ParseMissingDataPolicy(c.Scan.MissingDataPolicy)
	mode, _ := scanner.ParseDeltaMode(c.Scan.DeltaMode)
	timeout, err := time.ParseDuration(c.Scan.FetchTimeout)
	if err != nil {
		timeout = scanner.DefaultConfig.FetchTimeout
	}
	symbolTimeout, err := time.ParseDuration(c.Scan.SymbolTimeout)
	if err != nil {
		symbolTimeout = scanner.DefaultConfig.SymbolTimeout
	}
	loc, err := time.LoadLocation(c.Scan.MarketTimezone)
	if err != nil {
		loc = time.UTC
	}
	return scanner.Config{
		Filter: scanner.ChainFilter{
			MissingData:  policy,
			Delta:        mode,
			RiskFreeRate: c.Scan.RiskFreeRate,
		},
		MaxSymbols:    c.Scan.MaxSymbols,
		Workers:       c.Scan.Workers,
		FetchTimeout:  timeout,
		SymbolTimeout: symbolTimeout,
		Location:      loc,
	}
}
