package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klyrlabs/blindspot/internal/common"
	"github.com/klyrlabs/blindspot/internal/interfaces"
	"github.com/klyrlabs/blindspot/internal/models"
)

// --- Mock market data client ---

type mockClient struct {
	mu       sync.Mutex
	eodCalls atomic.Int32
	points   map[string][]models.PricePoint
	eodErr   error

	profiles     map[string]*models.InstrumentProfile
	profileCalls atomic.Int32
	profileErr   error
}

func (m *mockClient) GetEOD(_ context.Context, symbol string, _, _ time.Time) ([]models.PricePoint, error) {
	m.eodCalls.Add(1)
	if m.eodErr != nil {
		return nil, m.eodErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points[symbol], nil
}

func (m *mockClient) GetProfile(_ context.Context, symbol string) (*models.InstrumentProfile, error) {
	m.profileCalls.Add(1)
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	if p, ok := m.profiles[symbol]; ok {
		return p, nil
	}
	return &models.InstrumentProfile{Symbol: symbol}, nil
}

// --- Mock storage ---

type mockStorage struct {
	mu     sync.Mutex
	series map[string]*models.PriceSeries
	comps  map[string]*models.Composition
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		series: make(map[string]*models.PriceSeries),
		comps:  make(map[string]*models.Composition),
	}
}

func (m *mockStorage) PriceStore() interfaces.PriceStore             { return (*mockPriceStore)(m) }
func (m *mockStorage) CompositionStore() interfaces.CompositionStore { return (*mockCompStore)(m) }
func (m *mockStorage) SnapshotStore() interfaces.SnapshotStore       { return nil }
func (m *mockStorage) DataPath() string                              { return "" }
func (m *mockStorage) Close() error                                  { return nil }

type mockPriceStore mockStorage

func (m *mockPriceStore) GetSeries(_ context.Context, symbol string) (*models.PriceSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[symbol]
	if !ok {
		return nil, models.ErrDataUnavailable
	}
	copied := *s
	return &copied, nil
}

func (m *mockPriceStore) SaveSeries(_ context.Context, series *models.PriceSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *series
	m.series[series.Symbol] = &copied
	return nil
}

type mockCompStore mockStorage

func (m *mockCompStore) GetComposition(_ context.Context, symbol string) (*models.Composition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comps[symbol]
	if !ok {
		return nil, models.ErrDataUnavailable
	}
	copied := *c
	return &copied, nil
}

func (m *mockCompStore) SaveComposition(_ context.Context, comp *models.Composition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *comp
	m.comps[comp.Symbol] = &copied
	return nil
}

// --- helpers ---

func newTestService(client *mockClient, storage *mockStorage, now time.Time) *Service {
	svc := NewService(storage, client, common.NewSilentLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func testConfig() interfaces.RunConfig {
	cfg := interfaces.DefaultRunConfig()
	cfg.Normalize()
	return cfg
}

func point(date string, cents int64) models.PricePoint {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return models.PricePoint{Date: d, Close: models.NewMoney(cents, "CAD")}
}

// --- EnsureHistory ---

func TestEnsureHistory_FetchesNewSymbol(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{points: map[string][]models.PricePoint{
		"XIC.TO": {point("2026-07-30", 3500), point("2026-07-31", 3510)},
	}}
	storage := newMockStorage()
	svc := newTestService(client, storage, now)

	warnings := svc.EnsureHistory(context.Background(), []string{"XIC.TO"}, testConfig())
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	series := storage.series["XIC.TO"]
	if series == nil || len(series.Points) != 2 {
		t.Fatalf("series not stored: %+v", series)
	}
	if !series.LastFetchAt.Equal(now) {
		t.Errorf("LastFetchAt = %v, want %v", series.LastFetchAt, now)
	}
}

func TestEnsureHistory_FreshCacheSkipsFetch(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{}
	storage := newMockStorage()
	storage.series["XIC.TO"] = &models.PriceSeries{
		Symbol:      "XIC.TO",
		LastFetchAt: now.Add(-23 * time.Hour),
	}
	svc := newTestService(client, storage, now)

	svc.EnsureHistory(context.Background(), []string{"XIC.TO"}, testConfig())

	if got := client.eodCalls.Load(); got != 0 {
		t.Errorf("fetched %d times with a 23h-old cache, want 0", got)
	}
}

func TestEnsureHistory_StaleCacheRefetches(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{points: map[string][]models.PricePoint{
		"XIC.TO": {point("2026-08-01", 3520)},
	}}
	storage := newMockStorage()
	storage.series["XIC.TO"] = &models.PriceSeries{
		Symbol:      "XIC.TO",
		Points:      []models.PricePoint{point("2026-07-30", 3500)},
		LastFetchAt: now.Add(-25 * time.Hour),
	}
	svc := newTestService(client, storage, now)

	svc.EnsureHistory(context.Background(), []string{"XIC.TO"}, testConfig())

	if got := client.eodCalls.Load(); got != 1 {
		t.Fatalf("fetched %d times with a 25h-old cache, want exactly 1", got)
	}
	if got := len(storage.series["XIC.TO"].Points); got != 2 {
		t.Errorf("series has %d points after merge, want 2", got)
	}
}

func TestEnsureHistory_FailureMarkerPreventsHotRetry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{eodErr: errors.New("boom")}
	storage := newMockStorage()
	svc := newTestService(client, storage, now)
	cfg := testConfig()

	// First run: fetch fails, failure stamped, warning surfaced.
	warnings := svc.EnsureHistory(context.Background(), []string{"BAD.SYM"}, cfg)
	if len(warnings) != 1 || warnings[0].Kind != models.WarningProviderError {
		t.Fatalf("warnings = %v, want one provider_error", warnings)
	}
	if storage.series["BAD.SYM"].LastFailureAt.IsZero() {
		t.Fatal("failure timestamp not recorded")
	}

	// Second run inside the window: no new provider call, warning repeated.
	warnings = svc.EnsureHistory(context.Background(), []string{"BAD.SYM"}, cfg)
	if got := client.eodCalls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1 (failure within freshness window)", got)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want the cached-failure warning", warnings)
	}
}

func TestEnsureHistory_DedupesSymbols(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{points: map[string][]models.PricePoint{}}
	storage := newMockStorage()
	svc := newTestService(client, storage, now)

	svc.EnsureHistory(context.Background(), []string{"XIC.TO", "XIC.TO", "", "XIC.TO"}, testConfig())

	if got := client.eodCalls.Load(); got != 1 {
		t.Errorf("provider called %d times for one unique symbol, want 1", got)
	}
}

// --- GetHistory ---

func TestGetHistory_TrailingWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	storage := newMockStorage()
	storage.series["XIC.TO"] = &models.PriceSeries{
		Symbol: "XIC.TO",
		Points: []models.PricePoint{
			point("2020-01-02", 2500), // outside 36 months
			point("2026-07-30", 3500),
			point("2026-07-31", 3510),
		},
	}
	svc := newTestService(&mockClient{}, storage, now)

	points, err := svc.GetHistory(context.Background(), "XIC.TO", 36)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("got %d points, want 2 inside the lookback", len(points))
	}
}

func TestGetHistory_UnknownSymbol(t *testing.T) {
	svc := newTestService(&mockClient{}, newMockStorage(), time.Now())

	_, err := svc.GetHistory(context.Background(), "NOPE", 36)
	if !errors.Is(err, models.ErrDataUnavailable) {
		t.Errorf("err = %v, want ErrDataUnavailable", err)
	}
}

// --- ResolveComposition ---

func TestResolveComposition_ManualWins(t *testing.T) {
	client := &mockClient{profiles: map[string]*models.InstrumentProfile{
		"VRE.TO": {Symbol: "VRE.TO", Sector: "Real Estate", Country: "CA"},
	}}
	svc := newTestService(client, newMockStorage(), time.Now())

	h := models.Holding{
		ID:            "house",
		Name:          "Primary Residence",
		ProxySymbol:   "VRE.TO",
		ManualSector:  "Real Estate",
		ManualCountry: "CA",
	}

	comp, warnings := svc.ResolveComposition(context.Background(), h, testConfig())
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if comp.Source != models.CompositionManual {
		t.Errorf("source = %q, manual classification must win over the proxy", comp.Source)
	}
}

func TestResolveComposition_ProxyRedirect(t *testing.T) {
	client := &mockClient{profiles: map[string]*models.InstrumentProfile{
		"VRE.TO": {Symbol: "VRE.TO", Sector: "Real Estate", Country: "CA"},
	}}
	storage := newMockStorage()
	svc := newTestService(client, storage, time.Now())

	h := models.Holding{ID: "house", Name: "Primary Residence", ProxySymbol: "VRE.TO"}

	comp, warnings := svc.ResolveComposition(context.Background(), h, testConfig())
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if comp.Source != models.CompositionProvider {
		t.Errorf("source = %q, want provider via proxy", comp.Source)
	}
	sectors := comp.DimensionWeights(models.DimensionSector)
	if len(sectors) != 1 || sectors[0].Key.Value != "Real Estate" {
		t.Errorf("sector buckets = %v", sectors)
	}
	if storage.comps["VRE.TO"] == nil {
		t.Error("fetched composition not cached")
	}
}

func TestResolveComposition_NoSymbolUnclassified(t *testing.T) {
	svc := newTestService(&mockClient{}, newMockStorage(), time.Now())

	h := models.Holding{ID: "biz", Name: "Family Business"}

	comp, warnings := svc.ResolveComposition(context.Background(), h, testConfig())
	if comp.Source != models.CompositionUnclassified {
		t.Errorf("source = %q, want unclassified", comp.Source)
	}
	if len(warnings) != 1 || warnings[0].Kind != models.WarningDataUnavailable {
		t.Errorf("warnings = %v, want one data_unavailable", warnings)
	}
}

func TestResolveComposition_StaleFallback(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{profileErr: errors.New("provider down")}
	storage := newMockStorage()

	stale := &models.Composition{
		Symbol:    "VEQT.TO",
		Source:    models.CompositionProvider,
		FetchedAt: now.Add(-48 * time.Hour),
	}
	stale.Normalize()
	storage.comps["VEQT.TO"] = stale

	svc := newTestService(client, storage, now)
	h := models.Holding{ID: "veqt", Symbol: "VEQT.TO"}

	comp, warnings := svc.ResolveComposition(context.Background(), h, testConfig())
	if comp.Source != models.CompositionStale {
		t.Errorf("source = %q, want stale_fallback", comp.Source)
	}
	if len(warnings) != 1 || warnings[0].Kind != models.WarningCompositionStale {
		t.Errorf("warnings = %v, want one composition_stale", warnings)
	}

	// The cached entry itself keeps its original source.
	if storage.comps["VEQT.TO"].Source != models.CompositionProvider {
		t.Error("stale fallback must not mutate the cached entry")
	}
}

func TestResolveComposition_FailureMarkerPreventsHotRetry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{profileErr: errors.New("unknown symbol")}
	storage := newMockStorage()
	svc := newTestService(client, storage, now)
	cfg := testConfig()

	h := models.Holding{ID: "bad", Symbol: "BAD.SYM"}

	// First resolution: provider consulted, failure stamped on the cache.
	comp, warnings := svc.ResolveComposition(context.Background(), h, cfg)
	if comp.Source != models.CompositionUnclassified {
		t.Fatalf("source = %q, want unclassified", comp.Source)
	}
	if len(warnings) != 1 || warnings[0].Kind != models.WarningDataUnavailable {
		t.Fatalf("warnings = %v, want one data_unavailable", warnings)
	}
	if storage.comps["BAD.SYM"] == nil || storage.comps["BAD.SYM"].LastFailureAt.IsZero() {
		t.Fatal("failure timestamp not recorded on the composition cache")
	}

	// Second resolution inside the window: no new provider call.
	comp, warnings = svc.ResolveComposition(context.Background(), h, cfg)
	if got := client.profileCalls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1 (failure within freshness window)", got)
	}
	if comp.Source != models.CompositionUnclassified {
		t.Errorf("source = %q, want unclassified", comp.Source)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want the cached-failure warning", warnings)
	}
}

func TestResolveComposition_FailureMarkerKeepsStaleData(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{profileErr: errors.New("provider down")}
	storage := newMockStorage()

	cached := &models.Composition{
		Symbol:    "VEQT.TO",
		Source:    models.CompositionProvider,
		FetchedAt: now.Add(-48 * time.Hour),
	}
	cached.Normalize()
	storage.comps["VEQT.TO"] = cached

	svc := newTestService(client, storage, now)
	h := models.Holding{ID: "veqt", Symbol: "VEQT.TO"}
	cfg := testConfig()

	svc.ResolveComposition(context.Background(), h, cfg)
	comp, warnings := svc.ResolveComposition(context.Background(), h, cfg)

	if got := client.profileCalls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1 (failure within freshness window)", got)
	}
	if comp.Source != models.CompositionStale {
		t.Errorf("source = %q, want stale_fallback from the marked cache", comp.Source)
	}
	if len(warnings) != 1 || warnings[0].Kind != models.WarningCompositionStale {
		t.Errorf("warnings = %v, want one composition_stale", warnings)
	}
	if storage.comps["VEQT.TO"].Source != models.CompositionProvider {
		t.Error("failure marker must not change the cached entry's source")
	}
}

func TestResolveComposition_NoCacheNoProvider(t *testing.T) {
	client := &mockClient{profileErr: errors.New("provider down")}
	svc := newTestService(client, newMockStorage(), time.Now())

	h := models.Holding{ID: "x", Symbol: "XEQT.TO"}

	comp, warnings := svc.ResolveComposition(context.Background(), h, testConfig())
	if comp.Source != models.CompositionUnclassified {
		t.Errorf("source = %q, want unclassified", comp.Source)
	}
	if len(warnings) != 1 || warnings[0].Kind != models.WarningDataUnavailable {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestResolveComposition_FreshCacheSkipsProvider(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := &mockClient{profileErr: errors.New("should not be called")}
	storage := newMockStorage()

	fresh := &models.Composition{
		Symbol:    "VEQT.TO",
		Source:    models.CompositionProvider,
		FetchedAt: now.Add(-1 * time.Hour),
	}
	fresh.Normalize()
	storage.comps["VEQT.TO"] = fresh

	svc := newTestService(client, storage, now)
	h := models.Holding{ID: "veqt", Symbol: "VEQT.TO"}

	comp, warnings := svc.ResolveComposition(context.Background(), h, testConfig())
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if comp.Source != models.CompositionProvider {
		t.Errorf("source = %q, fresh cache should be returned as-is", comp.Source)
	}
}
