// Package market implements the cached market-data layer: per-symbol price
// history behind a freshness policy, and instrument composition resolution
// with proxy redirection and degraded fallbacks.
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/klyrlabs/blindspot/internal/common"
	"github.com/klyrlabs/blindspot/internal/interfaces"
	"github.com/klyrlabs/blindspot/internal/models"
)

// Service implements interfaces.MarketService
type Service struct {
	storage interfaces.StorageManager
	client  interfaces.MarketDataClient
	logger  *common.Logger

	now func() time.Time // injectable clock for freshness tests
}

// NewService creates a new market service
func NewService(storage interfaces.StorageManager, client interfaces.MarketDataClient, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		client:  client,
		logger:  logger,
		now:     time.Now,
	}
}

// EnsureHistory refreshes price series for the given symbols. A symbol is
// fetched only when it has never been fetched or its last fetch (or last
// recorded failure) is older than the freshness window; refreshes fan out
// concurrently, bounded by cfg.Concurrency. Returns data-quality warnings;
// provider failures never abort the run.
func (s *Service) EnsureHistory(ctx context.Context, symbols []string, cfg interfaces.RunConfig) []models.RunWarning {
	unique := dedupe(symbols)

	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var warnings []models.RunWarning

	for _, symbol := range unique {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			if w := s.refreshSymbol(ctx, symbol, cfg); w != nil {
				mu.Lock()
				warnings = append(warnings, *w)
				mu.Unlock()
			}
		}(symbol)
	}

	wg.Wait()

	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].Symbol < warnings[j].Symbol
	})
	return warnings
}

// refreshSymbol fetches fresher data for one symbol when the cache policy
// allows, merging by date so already-stored closes are never overwritten.
func (s *Service) refreshSymbol(ctx context.Context, symbol string, cfg interfaces.RunConfig) *models.RunWarning {
	now := s.now()

	series, err := s.storage.PriceStore().GetSeries(ctx, symbol)
	if err != nil {
		if !errors.Is(err, models.ErrDataUnavailable) {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to load price series")
		}
		series = &models.PriceSeries{Symbol: symbol}
	}

	if common.IsFreshAt(series.LastFetchAt, cfg.FreshnessWindow, now) {
		return nil
	}

	// A prior failed fetch is retried only after the freshness window, so a
	// permanently invalid symbol cannot hot-loop the provider.
	if common.IsFreshAt(series.LastFailureAt, cfg.FreshnessWindow, now) {
		return &models.RunWarning{
			Symbol:  symbol,
			Kind:    models.WarningProviderError,
			Message: fmt.Sprintf("recent fetch failure, using cached data: %s", series.LastFailure),
		}
	}

	from := now.AddDate(0, -cfg.LookbackMonths, 0)
	if latest, ok := series.LatestClose(); ok {
		from = latest.Date.AddDate(0, 0, 1)
	}

	points, err := s.client.GetEOD(ctx, symbol, from, now)
	if err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Price fetch failed")
		series.LastFailureAt = now
		series.LastFailure = err.Error()
		if saveErr := s.storage.PriceStore().SaveSeries(ctx, series); saveErr != nil {
			s.logger.Warn().Str("symbol", symbol).Err(saveErr).Msg("Failed to record fetch failure")
		}
		return &models.RunWarning{
			Symbol:  symbol,
			Kind:    models.WarningProviderError,
			Message: fmt.Sprintf("price fetch failed: %v", err),
		}
	}

	added := series.Merge(points)
	series.LastFetchAt = now
	series.LastFailureAt = time.Time{}
	series.LastFailure = ""

	if err := s.storage.PriceStore().SaveSeries(ctx, series); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to save price series")
		return &models.RunWarning{
			Symbol:  symbol,
			Kind:    models.WarningProviderError,
			Message: fmt.Sprintf("failed to persist price series: %v", err),
		}
	}

	s.logger.Debug().Str("symbol", symbol).Int("added", added).Msg("Price series refreshed")
	return nil
}

// GetHistory returns the cached closing prices for the trailing lookback,
// ascending by date. The series may be shorter than requested; missing
// trading days are absent, never interpolated.
func (s *Service) GetHistory(ctx context.Context, symbol string, lookbackMonths int) ([]models.PricePoint, error) {
	series, err := s.storage.PriceStore().GetSeries(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("price history for '%s': %w", symbol, err)
	}
	cutoff := s.now().AddDate(0, -lookbackMonths, 0)
	return series.Since(cutoff), nil
}

// ResolveComposition maps a holding to its underlying exposure weights.
// Deliberate manual classification wins; otherwise the holding's own symbol
// (or its proxy, for non-traded assets) is resolved through the composition
// cache with the same freshness policy as prices. Provider failure falls
// back to the last cached entry even if stale; only with no cache at all
// does resolution degrade to Unclassified.
func (s *Service) ResolveComposition(ctx context.Context, holding models.Holding, cfg interfaces.RunConfig) (*models.Composition, []models.RunWarning) {
	if manual := holding.ManualComposition(); manual != nil {
		return manual, nil
	}

	symbol := holding.PriceSymbol()
	if symbol == "" {
		return models.UnclassifiedComposition(holding.MatrixKey()), []models.RunWarning{{
			Symbol:  holding.MatrixKey(),
			Kind:    models.WarningDataUnavailable,
			Message: "no symbol, proxy, or manual classification; treating as unclassified",
		}}
	}

	cached, err := s.storage.CompositionStore().GetComposition(ctx, symbol)
	if err != nil && !errors.Is(err, models.ErrDataUnavailable) {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to load cached composition")
	}

	now := s.now()
	if cached != nil && common.IsFreshAt(cached.FetchedAt, cfg.FreshnessWindow, now) {
		return cached, nil
	}

	// A prior failed profile fetch is retried only after the freshness
	// window, mirroring the price path: a permanently invalid symbol cannot
	// hot-loop the provider on every run.
	if cached != nil && common.IsFreshAt(cached.LastFailureAt, cfg.FreshnessWindow, now) {
		return s.degradedComposition(cached, symbol, fmt.Sprintf("recent fetch failure: %s", cached.LastFailure))
	}

	profile, err := s.client.GetProfile(ctx, symbol)
	if err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Composition fetch failed")

		marker := cached
		if marker == nil {
			marker = models.UnclassifiedComposition(symbol)
		}
		marker.LastFailureAt = now
		marker.LastFailure = err.Error()
		if saveErr := s.storage.CompositionStore().SaveComposition(ctx, marker); saveErr != nil {
			s.logger.Warn().Str("symbol", symbol).Err(saveErr).Msg("Failed to record composition fetch failure")
		}

		return s.degradedComposition(marker, symbol, fmt.Sprintf("provider fetch failed: %v", err))
	}

	comp := models.CompositionFromProfile(profile, now)
	if err := s.storage.CompositionStore().SaveComposition(ctx, comp); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to cache composition")
	}
	return comp, nil
}

// degradedComposition returns the best available composition when the
// provider cannot be consulted: the cached entry marked stale when it holds
// real data, otherwise Unclassified.
func (s *Service) degradedComposition(cached *models.Composition, symbol, reason string) (*models.Composition, []models.RunWarning) {
	if cached.Source != models.CompositionUnclassified {
		stale := *cached
		stale.Source = models.CompositionStale
		return &stale, []models.RunWarning{{
			Symbol:  symbol,
			Kind:    models.WarningCompositionStale,
			Message: fmt.Sprintf("%s; using composition cached at %s", reason, cached.FetchedAt.Format(time.RFC3339)),
		}}
	}
	return models.UnclassifiedComposition(symbol), []models.RunWarning{{
		Symbol:  symbol,
		Kind:    models.WarningDataUnavailable,
		Message: fmt.Sprintf("no composition data (%s)", reason),
	}}
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	var out []string
	for _, s := range symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
