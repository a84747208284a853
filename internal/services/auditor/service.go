// Package auditor implements the investment audit engine: look-through
// decomposition, concentration analysis, correlation, and immutable
// net-worth snapshots.
package auditor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klyrlabs/blindspot/internal/common"
	"github.com/klyrlabs/blindspot/internal/interfaces"
	"github.com/klyrlabs/blindspot/internal/models"
)

// Service implements interfaces.AuditorService
type Service struct {
	holdings interfaces.HoldingsProvider
	market   interfaces.MarketService
	storage  interfaces.StorageManager
	logger   *common.Logger

	now func() time.Time
}

// NewService creates a new auditor service
func NewService(
	holdings interfaces.HoldingsProvider,
	market interfaces.MarketService,
	storage interfaces.StorageManager,
	logger *common.Logger,
) *Service {
	return &Service{
		holdings: holdings,
		market:   market,
		storage:  storage,
		logger:   logger,
		now:      time.Now,
	}
}

// RunAnalysis executes one full audit for a portfolio and appends the
// resulting snapshot to history. Per-instrument data failures degrade that
// instrument's contribution and are recorded as warnings on the snapshot;
// only a Holdings Provider failure is fatal.
func (s *Service) RunAnalysis(ctx context.Context, portfolioID string, cfg interfaces.RunConfig) (*models.NetWorthSnapshot, error) {
	cfg.Normalize()

	s.logger.Info().Str("portfolio", portfolioID).Msg("Starting analysis run")

	portfolio, err := s.holdings.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("holdings provider failed for '%s': %w", portfolioID, err)
	}

	// Refresh price series for every priced symbol (own or proxy).
	symbols := make([]string, 0, len(portfolio.Holdings))
	for _, h := range portfolio.Holdings {
		symbols = append(symbols, h.PriceSymbol())
	}
	warnings := s.market.EnsureHistory(ctx, symbols, cfg)

	// Value each holding and decompose into exposure buckets. Per-holding
	// weights are tracked separately for the single-holding rule and the
	// twin explanations.
	var shares, holdingShares []bucketShare
	totalAssets := models.Money{Currency: portfolio.Currency}
	categorySums := make(map[models.AssetCategory]models.Money)

	for _, h := range portfolio.Holdings {
		value, warning := s.holdingValue(ctx, h, cfg)
		if warning != nil {
			warnings = append(warnings, *warning)
		}
		if !value.IsZero() {
			holdingShares = append(holdingShares, bucketShare{
				key:    models.BucketKey{Dimension: models.DimensionHolding, Value: h.MatrixKey()},
				amount: value,
			})
		}

		totalAssets, err = totalAssets.Add(value)
		if err != nil {
			return nil, fmt.Errorf("holding '%s': %w", h.ID, err)
		}
		catSum, err := categorySums[h.Category].Add(value)
		if err != nil {
			return nil, fmt.Errorf("holding '%s': %w", h.ID, err)
		}
		categorySums[h.Category] = catSum

		comp, compWarnings := s.market.ResolveComposition(ctx, h, cfg)
		warnings = append(warnings, compWarnings...)

		compShares, err := decomposeHolding(value, comp)
		if err != nil {
			return nil, fmt.Errorf("holding '%s': %w", h.ID, err)
		}
		shares = append(shares, compShares...)
	}

	buckets, err := aggregateExposure(shares, totalAssets)
	if err != nil {
		return nil, err
	}

	// Holding weights feed rule evaluation alongside the dimension buckets
	// but stay out of the snapshot's exposure breakdown.
	holdingWeights, err := aggregateExposure(holdingShares, totalAssets)
	if err != nil {
		return nil, err
	}

	alerts := evaluateRules(append(append([]models.ExposureBucket{}, buckets...), holdingWeights...), cfg.EffectiveRules())

	weights := make(map[string]decimal.Decimal, len(holdingWeights))
	for _, b := range holdingWeights {
		weights[b.Key.Value] = b.Percent
	}

	matrix, twins, corrWarnings := computeCorrelations(ctx, s.market, portfolio.Holdings, weights, cfg)
	warnings = append(warnings, corrWarnings...)

	totalLiabilities := models.Money{Currency: portfolio.Currency}
	for _, l := range portfolio.Liabilities {
		totalLiabilities, err = totalLiabilities.Add(l.Balance)
		if err != nil {
			return nil, fmt.Errorf("liability '%s': %w", l.ID, err)
		}
	}

	totalEquity, err := totalAssets.Sub(totalLiabilities)
	if err != nil {
		return nil, err
	}

	// The snapshot is assembled and exposed only after every input has
	// resolved; a cancelled run leaves no partial record behind.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis run cancelled: %w", err)
	}

	snapshot := newSnapshot(
		s.now(), portfolioID,
		totalAssets, totalLiabilities, totalEquity,
		buckets, alerts, matrix, twins,
		categoryTotals(categorySums), warnings,
	)

	if err := s.storage.SnapshotStore().Append(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	s.logger.Info().
		Str("portfolio", portfolioID).
		Str("equity", snapshot.TotalEquity.Display()).
		Int("buckets", len(snapshot.Buckets)).
		Int("alerts", len(snapshot.Alerts)).
		Int("warnings", len(snapshot.Warnings)).
		Msg("Analysis run complete")

	return snapshot, nil
}

// holdingValue resolves a holding's market value: the provider-supplied
// value when present, otherwise quantity times the latest cached close.
// Unvaluable holdings contribute zero and surface a warning.
func (s *Service) holdingValue(ctx context.Context, h models.Holding, cfg interfaces.RunConfig) (models.Money, *models.RunWarning) {
	if !h.MarketValue.IsZero() {
		return h.MarketValue, nil
	}

	symbol := h.PriceSymbol()
	if symbol == "" || h.Quantity.IsZero() {
		if h.MarketValue.Currency != "" {
			return h.MarketValue, nil // genuine zero-value holding
		}
		return models.Money{}, &models.RunWarning{
			Symbol:  h.MatrixKey(),
			Kind:    models.WarningDataUnavailable,
			Message: "holding has no market value, symbol, or quantity; contributing zero",
		}
	}

	points, err := s.market.GetHistory(ctx, symbol, cfg.LookbackMonths)
	if err != nil || len(points) == 0 {
		return models.Money{}, &models.RunWarning{
			Symbol:  h.MatrixKey(),
			Kind:    models.WarningDataUnavailable,
			Message: fmt.Sprintf("no price available to value holding via %s; contributing zero", symbol),
		}
	}

	latest := points[len(points)-1]
	return latest.Close.Scale(h.Quantity), nil
}

func categoryTotals(sums map[models.AssetCategory]models.Money) []models.CategoryTotal {
	totals := make([]models.CategoryTotal, 0, len(sums))
	for category, amount := range sums {
		totals = append(totals, models.CategoryTotal{Category: category, Amount: amount})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Category < totals[j].Category })
	return totals
}

// History returns the most recent snapshots for a portfolio, newest first.
func (s *Service) History(ctx context.Context, portfolioID string, n int) ([]*models.NetWorthSnapshot, error) {
	return s.storage.SnapshotStore().Latest(ctx, portfolioID, n)
}
