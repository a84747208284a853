// Package auditfs implements file-based JSON storage for price series,
// instrument compositions, and the append-only snapshot history.
package auditfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klyrlabs/blindspot/internal/common"
	"github.com/klyrlabs/blindspot/internal/interfaces"
	"github.com/klyrlabs/blindspot/internal/models"
)

// Store provides file-based JSON storage for all auditor data.
type Store struct {
	basePath     string
	pricesDir    string
	compsDir     string
	snapshotsDir string
	logger       *common.Logger
}

// NewStore creates a new file store rooted at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store path %s: %w", path, err)
	}
	pricesDir := filepath.Join(path, "prices")
	compsDir := filepath.Join(path, "compositions")
	snapshotsDir := filepath.Join(path, "snapshots")
	os.MkdirAll(pricesDir, 0755)
	os.MkdirAll(compsDir, 0755)
	os.MkdirAll(snapshotsDir, 0755)

	logger.Info().Str("path", path).Msg("Audit store opened")
	return &Store{
		basePath:     path,
		pricesDir:    pricesDir,
		compsDir:     compsDir,
		snapshotsDir: snapshotsDir,
		logger:       logger,
	}, nil
}

// DataPath returns the base data path.
func (s *Store) DataPath() string {
	return s.basePath
}

// PriceStore returns the price series storage interface.
func (s *Store) PriceStore() interfaces.PriceStore {
	return &priceStore{store: s}
}

// CompositionStore returns the composition storage interface.
func (s *Store) CompositionStore() interfaces.CompositionStore {
	return &compositionStore{store: s}
}

// SnapshotStore returns the snapshot storage interface.
func (s *Store) SnapshotStore() interfaces.SnapshotStore {
	return &snapshotStore{store: s}
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// --- helpers ---

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func filePath(dir, key string) string {
	return filepath.Join(dir, sanitizeKey(key)+".json")
}

func readJSON(dir, key string, dest interface{}) error {
	path := filePath(dir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("'%s': %w", key, models.ErrDataUnavailable)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("'%s' is empty: %w", key, models.ErrDataUnavailable)
	}
	return json.Unmarshal(data, dest)
}

func writeJSON(dir, key string, data interface{}) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	target := filePath(dir, key)
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(jsonData); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func listKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".tmp-") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

// --- PriceStore ---

type priceStore struct {
	store *Store
}

func (p *priceStore) GetSeries(_ context.Context, symbol string) (*models.PriceSeries, error) {
	var series models.PriceSeries
	if err := readJSON(p.store.pricesDir, symbol, &series); err != nil {
		return nil, err
	}
	return &series, nil
}

func (p *priceStore) SaveSeries(_ context.Context, series *models.PriceSeries) error {
	if err := writeJSON(p.store.pricesDir, series.Symbol, series); err != nil {
		return fmt.Errorf("failed to save price series: %w", err)
	}
	p.store.logger.Debug().Str("symbol", series.Symbol).Int("points", len(series.Points)).Msg("Price series saved")
	return nil
}

// --- CompositionStore ---

type compositionStore struct {
	store *Store
}

func (c *compositionStore) GetComposition(_ context.Context, symbol string) (*models.Composition, error) {
	var comp models.Composition
	if err := readJSON(c.store.compsDir, symbol, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (c *compositionStore) SaveComposition(_ context.Context, comp *models.Composition) error {
	if err := writeJSON(c.store.compsDir, comp.Symbol, comp); err != nil {
		return fmt.Errorf("failed to save composition: %w", err)
	}
	c.store.logger.Debug().Str("symbol", comp.Symbol).Str("source", string(comp.Source)).Msg("Composition saved")
	return nil
}

// --- SnapshotStore ---

type snapshotStore struct {
	store *Store
}

// snapshotKey orders lexicographically by portfolio then timestamp, so a
// directory listing doubles as a time index.
func snapshotKey(snapshot *models.NetWorthSnapshot) string {
	return fmt.Sprintf("%s-%s-%s",
		sanitizeKey(snapshot.PortfolioID),
		snapshot.Timestamp.UTC().Format("20060102T150405"),
		snapshot.ID)
}

func (ss *snapshotStore) Append(_ context.Context, snapshot *models.NetWorthSnapshot) error {
	key := snapshotKey(snapshot)
	if _, err := os.Stat(filePath(ss.store.snapshotsDir, key)); err == nil {
		return fmt.Errorf("snapshot %s already exists", key)
	}
	if err := writeJSON(ss.store.snapshotsDir, key, snapshot); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	ss.store.logger.Info().
		Str("portfolio", snapshot.PortfolioID).
		Str("id", snapshot.ID).
		Msg("Snapshot appended")
	return nil
}

func (ss *snapshotStore) Latest(_ context.Context, portfolioID string, n int) ([]*models.NetWorthSnapshot, error) {
	keys, err := listKeys(ss.store.snapshotsDir)
	if err != nil {
		return nil, err
	}

	prefix := sanitizeKey(portfolioID) + "-"
	var matched []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matched)))

	if n > 0 && len(matched) > n {
		matched = matched[:n]
	}

	result := make([]*models.NetWorthSnapshot, 0, len(matched))
	for _, key := range matched {
		var snapshot models.NetWorthSnapshot
		if err := readJSON(ss.store.snapshotsDir, key, &snapshot); err != nil {
			ss.store.logger.Warn().Str("key", key).Err(err).Msg("Skipping unreadable snapshot")
			continue
		}
		result = append(result, &snapshot)
	}
	return result, nil
}
