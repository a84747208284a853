// Package app wires configuration, storage, clients, and services into a
// runnable application core shared by the command-line entry points.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klyrlabs/blindspot/internal/clients/holdingsfile"
	"github.com/klyrlabs/blindspot/internal/clients/marketdata"
	"github.com/klyrlabs/blindspot/internal/common"
	"github.com/klyrlabs/blindspot/internal/interfaces"
	"github.com/klyrlabs/blindspot/internal/services/auditor"
	"github.com/klyrlabs/blindspot/internal/services/market"
	"github.com/klyrlabs/blindspot/internal/storage/auditfs"
)

// App holds all initialized services, clients, and storage.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	MarketService    interfaces.MarketService
	AuditorService   *auditor.Service
	DefaultPortfolio string
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, clients, and services from configuration.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	binDir := getBinaryDir()

	// Config resolution: explicit path, BLINDSPOT_CONFIG, binary dir, then
	// the development fallback.
	if configPath == "" {
		configPath = os.Getenv("BLINDSPOT_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "blindspot.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/blindspot.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative paths against the binary directory so the install is
	// self-contained.
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}
	if config.Holdings.Path != "" && !filepath.IsAbs(config.Holdings.Path) {
		config.Holdings.Path = filepath.Join(binDir, config.Holdings.Path)
	}

	logger := common.NewLogger(config.Logging.Level)

	storageManager, err := auditfs.NewStore(logger, config.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if config.Clients.MarketData.APIKey == "" {
		logger.Warn().Msg("Market data API key not configured - analysis will run on cached data only")
	}

	marketClient := marketdata.NewClient(
		config.Clients.MarketData.APIKey,
		config.ReportingCurrency,
		marketdata.WithBaseURL(config.Clients.MarketData.BaseURL),
		marketdata.WithLogger(logger),
		marketdata.WithRateLimit(config.Clients.MarketData.RateLimit),
		marketdata.WithTimeout(config.Clients.MarketData.GetTimeout()),
		marketdata.WithRetries(config.Clients.MarketData.Retries),
	)

	holdingsProvider := holdingsfile.NewProvider(config.Holdings.Path, logger)

	marketService := market.NewService(storageManager, marketClient, logger)
	auditorService := auditor.NewService(holdingsProvider, marketService, storageManager, logger)

	logger.Info().
		Str("environment", config.Environment).
		Str("data_path", config.Storage.Path).
		Msg("App initialized")

	return &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		MarketService:    marketService,
		AuditorService:   auditorService,
		DefaultPortfolio: config.Holdings.DefaultPortfolio,
	}, nil
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
