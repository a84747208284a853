// Package common provides shared utilities for Blindspot
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"github.com/klyrlabs/blindspot/internal/interfaces"
)

// Config holds all configuration for Blindspot
type Config struct {
	Environment       string         `toml:"environment"`
	ReportingCurrency string         `toml:"reporting_currency"` // fixed reporting currency for the whole portfolio (default "CAD")
	Storage           StorageConfig  `toml:"storage"`
	Holdings          HoldingsConfig `toml:"holdings"`
	Clients           ClientsConfig  `toml:"clients"`
	Logging           LoggingConfig  `toml:"logging"`
	Analysis          AnalysisConfig `toml:"analysis"`
}

// HoldingsConfig locates the holdings provider source.
type HoldingsConfig struct {
	Path             string `toml:"path"` // holdings JSON file
	DefaultPortfolio string `toml:"default_portfolio"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	Path string `toml:"path"` // base directory for price, composition, and snapshot stores
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	MarketData MarketDataConfig `toml:"marketdata"`
}

// MarketDataConfig holds market data provider configuration
type MarketDataConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"` // requests per second
	Timeout   string `toml:"timeout"`
	Retries   int    `toml:"retries"` // attempts beyond the first, with exponential backoff
}

// GetTimeout parses and returns the timeout duration
func (c *MarketDataConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// AnalysisConfig holds analysis run defaults. Thresholds are fractions of
// total portfolio value (0.60 = 60%).
type AnalysisConfig struct {
	HomeCountry            string  `toml:"home_country"`
	HomeBiasThreshold      float64 `toml:"home_bias_threshold"`
	HomeBiasCritical       float64 `toml:"home_bias_critical"`
	SectorRiskThreshold    float64 `toml:"sector_risk_threshold"`
	SectorRiskCritical     float64 `toml:"sector_risk_critical"`
	GeoRiskThreshold       float64 `toml:"geo_risk_threshold"`
	SingleHoldingThreshold float64 `toml:"single_holding_threshold"`
	LookbackMonths         int     `toml:"lookback_months"`
	FreshnessWindow        string  `toml:"freshness_window"`
	MinOverlap             int     `toml:"min_overlap"`
	MaxGapDays             int     `toml:"max_gap_days"`
	TwinThreshold          float64 `toml:"twin_threshold"`
	Concurrency            int     `toml:"concurrency"` // concurrent provider refreshes per run
}

// RunConfig converts the analysis section into a per-run configuration.
// Thresholds arrive from TOML as floats; they become exact decimals here and
// stay exact through every comparison.
func (c *AnalysisConfig) RunConfig() interfaces.RunConfig {
	cfg := interfaces.RunConfig{
		HomeCountry:            strings.ToUpper(c.HomeCountry),
		HomeBiasThreshold:      decimal.NewFromFloat(c.HomeBiasThreshold),
		HomeBiasCritical:       decimal.NewFromFloat(c.HomeBiasCritical),
		SectorRiskThreshold:    decimal.NewFromFloat(c.SectorRiskThreshold),
		SectorRiskCritical:     decimal.NewFromFloat(c.SectorRiskCritical),
		GeoRiskThreshold:       decimal.NewFromFloat(c.GeoRiskThreshold),
		SingleHoldingThreshold: decimal.NewFromFloat(c.SingleHoldingThreshold),
		LookbackMonths:         c.LookbackMonths,
		FreshnessWindow:        c.GetFreshnessWindow(),
		MinOverlap:             c.MinOverlap,
		MaxGapDays:             c.MaxGapDays,
		TwinThreshold:          c.TwinThreshold,
		Concurrency:            c.Concurrency,
	}
	cfg.Normalize()
	return cfg
}

// GetFreshnessWindow parses and returns the cache freshness window
func (c *AnalysisConfig) GetFreshnessWindow() time.Duration {
	d, err := time.ParseDuration(c.FreshnessWindow)
	if err != nil {
		return FreshnessMarketData
	}
	return d
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment:       "development",
		ReportingCurrency: "CAD",
		Storage: StorageConfig{
			Path: "data",
		},
		Holdings: HoldingsConfig{
			Path:             "holdings.json",
			DefaultPortfolio: "default",
		},
		Clients: ClientsConfig{
			MarketData: MarketDataConfig{
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 10,
				Timeout:   "30s",
				Retries:   3,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Analysis: AnalysisConfig{
			HomeCountry:            "CA",
			HomeBiasThreshold:      0.60,
			HomeBiasCritical:       0.75,
			SectorRiskThreshold:    0.25,
			SectorRiskCritical:     0.40,
			GeoRiskThreshold:       0.35,
			SingleHoldingThreshold: 0.20,
			LookbackMonths:         36,
			FreshnessWindow:        "24h",
			MinOverlap:             12,
			MaxGapDays:             5,
			TwinThreshold:          0.80,
			Concurrency:            4,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	validateReportingCurrency(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("BLINDSPOT_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("BLINDSPOT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("BLINDSPOT_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if path := os.Getenv("BLINDSPOT_HOLDINGS_PATH"); path != "" {
		config.Holdings.Path = path
	}

	if cur := os.Getenv("BLINDSPOT_REPORTING_CURRENCY"); cur != "" {
		config.ReportingCurrency = strings.ToUpper(cur)
	}

	if key := os.Getenv("BLINDSPOT_MARKETDATA_API_KEY"); key != "" {
		config.Clients.MarketData.APIKey = key
	}

	if url := os.Getenv("BLINDSPOT_MARKETDATA_BASE_URL"); url != "" {
		config.Clients.MarketData.BaseURL = url
	}

	if home := os.Getenv("BLINDSPOT_HOME_COUNTRY"); home != "" {
		config.Analysis.HomeCountry = strings.ToUpper(home)
	}

	if lookback := os.Getenv("BLINDSPOT_LOOKBACK_MONTHS"); lookback != "" {
		if n, err := strconv.Atoi(lookback); err == nil && n > 0 {
			config.Analysis.LookbackMonths = n
		}
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// validateReportingCurrency normalizes the reporting currency to an upper-case
// ISO code, defaulting to CAD when unset.
func validateReportingCurrency(config *Config) {
	cur := strings.ToUpper(strings.TrimSpace(config.ReportingCurrency))
	if len(cur) != 3 {
		cur = "CAD"
	}
	config.ReportingCurrency = cur
}
