// Package interfaces defines service contracts for Blindspot
package interfaces

import (
	"context"

	"github.com/klyrlabs/blindspot/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	PriceStore() PriceStore
	CompositionStore() CompositionStore
	SnapshotStore() SnapshotStore

	// DataPath returns the base data directory path.
	DataPath() string

	// Lifecycle
	Close() error
}

// PriceStore persists per-symbol price series. Individual (symbol, date)
// points are immutable once recorded; series-level fetch bookkeeping is
// updated in place.
type PriceStore interface {
	// GetSeries retrieves the cached series for a symbol, or
	// models.ErrDataUnavailable when none exists.
	GetSeries(ctx context.Context, symbol string) (*models.PriceSeries, error)

	// SaveSeries persists a series.
	SaveSeries(ctx context.Context, series *models.PriceSeries) error
}

// CompositionStore persists instrument compositions. Entries are superseded
// by newer fetches, never deleted.
type CompositionStore interface {
	// GetComposition retrieves the cached composition for a symbol, or
	// models.ErrDataUnavailable when none exists.
	GetComposition(ctx context.Context, symbol string) (*models.Composition, error)

	// SaveComposition persists a composition, superseding any prior entry.
	SaveComposition(ctx context.Context, comp *models.Composition) error
}

// SnapshotStore is the append-only net-worth history. The contract has no
// update or delete: immutability of persisted snapshots is structural.
type SnapshotStore interface {
	// Append inserts a finished snapshot.
	Append(ctx context.Context, snapshot *models.NetWorthSnapshot) error

	// Latest returns up to n snapshots for a portfolio, newest first.
	Latest(ctx context.Context, portfolioID string, n int) ([]*models.NetWorthSnapshot, error)
}
