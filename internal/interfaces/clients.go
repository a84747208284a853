// Package interfaces defines service contracts for Blindspot
package interfaces

import (
	"context"
	"time"

	"github.com/klyrlabs/blindspot/internal/models"
)

// HoldingsProvider returns the current balance sheet for a portfolio. The
// aggregation/brokerage-sync machinery behind it is out of scope; a failure
// here is the only error fatal to an analysis run.
type HoldingsProvider interface {
	GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error)
}

// MarketDataClient is the external market data provider. It may fail, time
// out, or rate-limit; callers fall back to cached data per the freshness
// policy.
type MarketDataClient interface {
	// GetEOD returns available closing prices for a symbol in [from, to].
	// Missing trading days are simply absent.
	GetEOD(ctx context.Context, symbol string, from, to time.Time) ([]models.PricePoint, error)

	// GetProfile returns classification data for a symbol: sector/country
	// for a plain security, full weight tables for a fund.
	GetProfile(ctx context.Context, symbol string) (*models.InstrumentProfile, error)
}
