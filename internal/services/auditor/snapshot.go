package auditor

import (
	"time"

	"github.com/google/uuid"

	"github.com/klyrlabs/blindspot/internal/models"
)

// newSnapshot assembles the immutable net-worth record for one run. Every
// derived set is deep-copied, so later mutation of working state cannot
// retroactively alter the snapshot. Persistence is the caller's concern.
func newSnapshot(
	timestamp time.Time,
	portfolioID string,
	totalAssets, totalLiabilities, totalEquity models.Money,
	buckets []models.ExposureBucket,
	alerts []models.ConcentrationAlert,
	matrix models.CorrelationMatrix,
	twins []models.HiddenTwin,
	categories []models.CategoryTotal,
	warnings []models.RunWarning,
) *models.NetWorthSnapshot {
	snapshot := &models.NetWorthSnapshot{
		ID:               uuid.NewString(),
		PortfolioID:      portfolioID,
		Timestamp:        timestamp.UTC(),
		TotalAssets:      totalAssets,
		TotalLiabilities: totalLiabilities,
		TotalEquity:      totalEquity,
		Buckets:          copySlice(buckets),
		Alerts:           copySlice(alerts),
		Correlations:     matrix.Clone(),
		HiddenTwins:      copySlice(twins),
		CategoryTotals:   copySlice(categories),
		Warnings:         copySlice(warnings),
	}
	return snapshot
}

// copySlice detaches a derived set from working state. Element types here
// hold only value fields and immutable decimals, so an element copy is a
// deep copy.
func copySlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
