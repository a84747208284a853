// Package models defines data structures for Blindspot
package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Dimension identifies an exposure classification axis.
type Dimension string

const (
	DimensionSector    Dimension = "sector"
	DimensionGeography Dimension = "geography"

	// DimensionHolding tags per-holding weight shares for concentration
	// rules. It is not a composition axis: instruments never carry holding
	// buckets, so it stays out of Dimensions.
	DimensionHolding Dimension = "holding"
)

// Dimensions lists the classification axes in evaluation order.
var Dimensions = []Dimension{DimensionSector, DimensionGeography}

// UnclassifiedBucket is the bucket value used when no classification data is
// available for a dimension.
const UnclassifiedBucket = "Unclassified"

// BucketKey identifies a single exposure bucket within a dimension.
type BucketKey struct {
	Dimension Dimension `json:"dimension"`
	Value     string    `json:"value"`
}

// String returns "dimension/value" for logging and deterministic ordering.
func (k BucketKey) String() string {
	return string(k.Dimension) + "/" + k.Value
}

// Less orders bucket keys by dimension, then value.
func (k BucketKey) Less(other BucketKey) bool {
	if k.Dimension != other.Dimension {
		return k.Dimension < other.Dimension
	}
	return k.Value < other.Value
}

// PricePoint is a single day's canonical closing price. Immutable once
// recorded for a (symbol, date): a later fetch for the same date is ignored.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close Money     `json:"close"`
}

// PriceSeries holds the cached closing-price history for one symbol, plus the
// fetch bookkeeping that drives the freshness and failed-fetch policies.
type PriceSeries struct {
	Symbol        string       `json:"symbol"`
	Points        []PricePoint `json:"points"` // ascending by date
	LastFetchAt   time.Time    `json:"last_fetch_at"`
	LastFailureAt time.Time    `json:"last_failure_at,omitempty"`
	LastFailure   string       `json:"last_failure,omitempty"`
}

// Merge adds points for dates not already present, keeping the series
// ascending. Already-stored dates are never overwritten. Returns the number
// of points added.
func (s *PriceSeries) Merge(points []PricePoint) int {
	seen := make(map[string]bool, len(s.Points))
	for _, p := range s.Points {
		seen[dayKey(p.Date)] = true
	}

	added := 0
	for _, p := range points {
		key := dayKey(p.Date)
		if seen[key] {
			continue
		}
		seen[key] = true
		s.Points = append(s.Points, p)
		added++
	}

	if added > 0 {
		sort.Slice(s.Points, func(i, j int) bool {
			return s.Points[i].Date.Before(s.Points[j].Date)
		})
	}
	return added
}

// Since returns the points on or after cutoff, ascending.
func (s *PriceSeries) Since(cutoff time.Time) []PricePoint {
	idx := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Date.Before(cutoff)
	})
	out := make([]PricePoint, len(s.Points)-idx)
	copy(out, s.Points[idx:])
	return out
}

// LatestClose returns the most recent closing price, if any.
func (s *PriceSeries) LatestClose() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CompositionSource records how a composition was obtained, so a degraded
// fallback is distinguishable from a deliberate manual classification.
type CompositionSource string

const (
	CompositionProvider     CompositionSource = "provider"
	CompositionManual       CompositionSource = "manual"
	CompositionStale        CompositionSource = "stale_fallback"
	CompositionUnclassified CompositionSource = "unclassified"
)

// WeightedBucket is one (bucket, weight fraction) entry of a composition.
type WeightedBucket struct {
	Key    BucketKey       `json:"key"`
	Weight decimal.Decimal `json:"weight"`
}

// Composition maps an instrument to its underlying exposure weights per
// dimension. Fetched from the provider or supplied manually; cached with a
// fetch timestamp and superseded (never deleted) by newer fetches.
type Composition struct {
	Symbol    string            `json:"symbol"`
	Buckets   []WeightedBucket  `json:"buckets"` // sorted by bucket key
	Source    CompositionSource `json:"source"`
	FetchedAt time.Time         `json:"fetched_at"`

	// Failure markers, mirroring PriceSeries. A fresh LastFailureAt
	// suppresses provider retries for the freshness window.
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
	LastFailure   string    `json:"last_failure,omitempty"`
}

// WeightSumTolerance is how far a dimension's weights may drift from 1.0
// before the dimension is treated as entirely unclassified.
var WeightSumTolerance = decimal.NewFromFloat(1e-3)

// DimensionWeights returns the buckets of one dimension, sorted by key.
func (c *Composition) DimensionWeights(dim Dimension) []WeightedBucket {
	var out []WeightedBucket
	for _, b := range c.Buckets {
		if b.Key.Dimension == dim {
			out = append(out, b)
		}
	}
	return out
}

// Normalize validates each dimension's weights: a dimension whose weights are
// absent or sum outside 1 +/- WeightSumTolerance collapses to a single
// Unclassified bucket at weight 1. Buckets are sorted by key afterwards.
func (c *Composition) Normalize() {
	one := decimal.NewFromInt(1)
	var normalized []WeightedBucket

	for _, dim := range Dimensions {
		buckets := c.DimensionWeights(dim)

		sum := decimal.Zero
		for _, b := range buckets {
			sum = sum.Add(b.Weight)
		}

		if len(buckets) == 0 || sum.Sub(one).Abs().GreaterThan(WeightSumTolerance) {
			normalized = append(normalized, WeightedBucket{
				Key:    BucketKey{Dimension: dim, Value: UnclassifiedBucket},
				Weight: one,
			})
			continue
		}
		normalized = append(normalized, buckets...)
	}

	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].Key.Less(normalized[j].Key)
	})
	c.Buckets = normalized
}

// UnclassifiedComposition builds the degraded composition used when no data
/// exists for a symbol: 100% Unclassified on every dimension.
func UnclassifiedComposition(symbol string) *Composition {
	c := &Composition{
		Symbol: symbol,
		Source: CompositionUnclassified,
	}
	c.Normalize()
	return c
}

// InstrumentProfile is the provider's classification data for one symbol:
// a plain equity carries its own sector and country; a fund carries full
// sector and geography weight tables.
type InstrumentProfile struct {
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	Sector         string          `json:"sector"`
	Country        string          `json:"country"`
	IsFund         bool            `json:"is_fund"`
	SectorWeights  []SectorWeight  `json:"sector_weights,omitempty"`
	CountryWeights []CountryWeight `json:"country_weights,omitempty"`
}

// SectorWeight is a fund's allocation to one sector.
type SectorWeight struct {
	Sector string          `json:"sector"`
	Weight decimal.Decimal `json:"weight"`
}

// CountryWeight is a fund's allocation to one country.
type CountryWeight struct {
	Country string          `json:"country"`
	Weight  decimal.Decimal `json:"weight"`
}

// CompositionFromProfile builds a cached composition entry from a provider
// profile. For a plain security each dimension gets a single full-weight
// bucket; missing fields degrade to Unclassified via Normalize.
func CompositionFromProfile(profile *InstrumentProfile, fetchedAt time.Time) *Composition {
	one := decimal.NewFromInt(1)
	c := &Composition{
		Symbol:    profile.Symbol,
		Source:    CompositionProvider,
		FetchedAt: fetchedAt,
	}

	if profile.IsFund {
		for _, w := range profile.SectorWeights {
			c.Buckets = append(c.Buckets, WeightedBucket{
				Key:    BucketKey{Dimension: DimensionSector, Value: w.Sector},
				Weight: w.Weight,
			})
		}
		for _, w := range profile.CountryWeights {
			c.Buckets = append(c.Buckets, WeightedBucket{
				Key:    BucketKey{Dimension: DimensionGeography, Value: w.Country},
				Weight: w.Weight,
			})
		}
	} else {
		if profile.Sector != "" {
			c.Buckets = append(c.Buckets, WeightedBucket{
				Key:    BucketKey{Dimension: DimensionSector, Value: profile.Sector},
				Weight: one,
			})
		}
		if profile.Country != "" {
			c.Buckets = append(c.Buckets, WeightedBucket{
				Key:    BucketKey{Dimension: DimensionGeography, Value: profile.Country},
				Weight: one,
			})
		}
	}

	c.Normalize()
	return c
}
