// Package interfaces defines service contracts for Blindspot
package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klyrlabs/blindspot/internal/models"
)

// AuditorService runs the full investment audit
type AuditorService interface {
	// RunAnalysis pulls current holdings, refreshes market data, decomposes
	// exposure, evaluates concentration rules, computes correlations, and
	// appends an immutable net-worth snapshot.
	RunAnalysis(ctx context.Context, portfolioID string, cfg RunConfig) (*models.NetWorthSnapshot, error)
}

// MarketService is the cached market-data layer: price history with a
// freshness policy, and per-instrument composition resolution.
type MarketService interface {
	// EnsureHistory refreshes stale or never-fetched price series for the
	// given symbols, bounded by the configured concurrency. Degradations
	// are returned as warnings, never as a fatal error.
	EnsureHistory(ctx context.Context, symbols []string, cfg RunConfig) []models.RunWarning

	// GetHistory returns the cached series for a symbol, ascending by date,
	// possibly shorter than requested. Never fabricated or forward-filled.
	GetHistory(ctx context.Context, symbol string, lookbackMonths int) ([]models.PricePoint, error)

	// ResolveComposition maps a holding to its underlying exposure weights,
	// following proxy redirection and the stale-fallback policy.
	ResolveComposition(ctx context.Context, holding models.Holding, cfg RunConfig) (*models.Composition, []models.RunWarning)
}

// RunConfig enumerates the per-run analysis parameters. Zero values are
// replaced by defaults via Normalize.
type RunConfig struct {
	HomeCountry            string
	HomeBiasThreshold      decimal.Decimal
	HomeBiasCritical       decimal.Decimal
	SectorRiskThreshold    decimal.Decimal
	SectorRiskCritical     decimal.Decimal
	GeoRiskThreshold       decimal.Decimal
	SingleHoldingThreshold decimal.Decimal

	LookbackMonths  int
	FreshnessWindow time.Duration
	MinOverlap      int
	MaxGapDays      int
	TwinThreshold   float64
	Concurrency     int

	// Rules overrides the built-in rule families when non-empty.
	Rules []models.ConcentrationRule
}

// DefaultRunConfig returns the documented defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		HomeCountry:            "CA",
		HomeBiasThreshold:      decimal.NewFromFloat(0.60),
		HomeBiasCritical:       decimal.NewFromFloat(0.75),
		SectorRiskThreshold:    decimal.NewFromFloat(0.25),
		SectorRiskCritical:     decimal.NewFromFloat(0.40),
		GeoRiskThreshold:       decimal.NewFromFloat(0.35),
		SingleHoldingThreshold: decimal.NewFromFloat(0.20),
		LookbackMonths:         36,
		FreshnessWindow:        24 * time.Hour,
		MinOverlap:             12,
		MaxGapDays:             5,
		TwinThreshold:          0.80,
		Concurrency:            4,
	}
}

// Normalize fills zero-valued fields with defaults.
func (c *RunConfig) Normalize() {
	def := DefaultRunConfig()
	if c.HomeCountry == "" {
		c.HomeCountry = def.HomeCountry
	}
	if c.HomeBiasThreshold.IsZero() {
		c.HomeBiasThreshold = def.HomeBiasThreshold
	}
	if c.HomeBiasCritical.IsZero() {
		c.HomeBiasCritical = def.HomeBiasCritical
	}
	if c.SectorRiskThreshold.IsZero() {
		c.SectorRiskThreshold = def.SectorRiskThreshold
	}
	if c.SectorRiskCritical.IsZero() {
		c.SectorRiskCritical = def.SectorRiskCritical
	}
	if c.GeoRiskThreshold.IsZero() {
		c.GeoRiskThreshold = def.GeoRiskThreshold
	}
	if c.SingleHoldingThreshold.IsZero() {
		c.SingleHoldingThreshold = def.SingleHoldingThreshold
	}
	if c.LookbackMonths <= 0 {
		c.LookbackMonths = def.LookbackMonths
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = def.FreshnessWindow
	}
	if c.MinOverlap <= 0 {
		c.MinOverlap = def.MinOverlap
	}
	if c.MaxGapDays <= 0 {
		c.MaxGapDays = def.MaxGapDays
	}
	if c.TwinThreshold <= 0 {
		c.TwinThreshold = def.TwinThreshold
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
}

// EffectiveRules returns the rule set for a run: the configured override, or
// the built-in families derived from the thresholds.
func (c *RunConfig) EffectiveRules() []models.ConcentrationRule {
	if len(c.Rules) > 0 {
		return c.Rules
	}
	return []models.ConcentrationRule{
		{
			ID:        "home-bias",
			Dimension: models.DimensionGeography,
			Bucket:    c.HomeCountry,
			Threshold: c.HomeBiasThreshold,
			Severity:  models.SeverityWarning,
		},
		{
			ID:        "home-bias-critical",
			Dimension: models.DimensionGeography,
			Bucket:    c.HomeCountry,
			Threshold: c.HomeBiasCritical,
			Severity:  models.SeverityCritical,
		},
		{
			ID:        "sector-risk",
			Dimension: models.DimensionSector,
			Bucket:    models.RuleAnyBucket,
			Threshold: c.SectorRiskThreshold,
			Severity:  models.SeverityWarning,
		},
		{
			ID:        "sector-risk-critical",
			Dimension: models.DimensionSector,
			Bucket:    models.RuleAnyBucket,
			Threshold: c.SectorRiskCritical,
			Severity:  models.SeverityCritical,
		},
		{
			ID:        "geo-risk",
			Dimension: models.DimensionGeography,
			Bucket:    models.RuleAnyBucket,
			Exclude:   []string{c.HomeCountry},
			Threshold: c.GeoRiskThreshold,
			Severity:  models.SeverityWarning,
		},
		{
			ID:        "single-holding",
			Dimension: models.DimensionHolding,
			Bucket:    models.RuleAnyBucket,
			Threshold: c.SingleHoldingThreshold,
			Severity:  models.SeverityWarning,
		},
	}
}
