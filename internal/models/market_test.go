package models

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func point(date string, cents int64) PricePoint {
	return PricePoint{Date: day(date), Close: NewMoney(cents, "CAD")}
}

func TestPriceSeries_Merge_NeverOverwrites(t *testing.T) {
	s := &PriceSeries{Symbol: "XIC.TO"}
	s.Merge([]PricePoint{point("2026-01-05", 3500), point("2026-01-06", 3510)})

	// A later fetch reporting a different close for an existing date is
	// ignored; only the genuinely new date lands.
	added := s.Merge([]PricePoint{point("2026-01-06", 9999), point("2026-01-07", 3520)})
	if added != 1 {
		t.Errorf("Merge added %d points, want 1", added)
	}
	if len(s.Points) != 3 {
		t.Fatalf("series has %d points, want 3", len(s.Points))
	}
	if s.Points[1].Close.Cents != 3510 {
		t.Errorf("existing point overwritten: close = %d, want 3510", s.Points[1].Close.Cents)
	}
}

func TestPriceSeries_Merge_KeepsAscendingOrder(t *testing.T) {
	s := &PriceSeries{Symbol: "XIC.TO"}
	s.Merge([]PricePoint{point("2026-01-07", 3520)})
	s.Merge([]PricePoint{point("2026-01-05", 3500), point("2026-01-06", 3510)})

	for i := 1; i < len(s.Points); i++ {
		if !s.Points[i-1].Date.Before(s.Points[i].Date) {
			t.Fatalf("points not ascending at index %d", i)
		}
	}
}

func TestPriceSeries_Since(t *testing.T) {
	s := &PriceSeries{Symbol: "XIC.TO"}
	s.Merge([]PricePoint{
		point("2026-01-05", 3500),
		point("2026-01-06", 3510),
		point("2026-01-07", 3520),
	})

	got := s.Since(day("2026-01-06"))
	if len(got) != 2 {
		t.Fatalf("Since returned %d points, want 2", len(got))
	}
	if !got[0].Date.Equal(day("2026-01-06")) {
		t.Errorf("first point = %s, want 2026-01-06", got[0].Date)
	}
}

func TestComposition_Normalize_Tolerance(t *testing.T) {
	w := func(dim Dimension, value, weight string) WeightedBucket {
		return WeightedBucket{Key: BucketKey{Dimension: dim, Value: value}, Weight: dec(weight)}
	}

	tests := []struct {
		name        string
		buckets     []WeightedBucket
		wantSectors []string
	}{
		{
			name: "within tolerance kept",
			buckets: []WeightedBucket{
				w(DimensionSector, "Energy", "0.4"),
				w(DimensionSector, "Financials", "0.5995"),
			},
			wantSectors: []string{"Energy", "Financials"},
		},
		{
			name: "outside tolerance collapses",
			buckets: []WeightedBucket{
				w(DimensionSector, "Energy", "0.4"),
				w(DimensionSector, "Financials", "0.55"),
			},
			wantSectors: []string{UnclassifiedBucket},
		},
		{
			name:        "empty dimension collapses",
			buckets:     nil,
			wantSectors: []string{UnclassifiedBucket},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Composition{Symbol: "TEST", Buckets: tt.buckets}
			c.Normalize()

			sectors := c.DimensionWeights(DimensionSector)
			if len(sectors) != len(tt.wantSectors) {
				t.Fatalf("sector buckets = %d, want %d", len(sectors), len(tt.wantSectors))
			}
			for i, want := range tt.wantSectors {
				if sectors[i].Key.Value != want {
					t.Errorf("sector[%d] = %q, want %q", i, sectors[i].Key.Value, want)
				}
			}

			// Geography was never supplied, so it always collapses.
			geo := c.DimensionWeights(DimensionGeography)
			if len(geo) != 1 || geo[0].Key.Value != UnclassifiedBucket {
				t.Errorf("geography should collapse to Unclassified, got %v", geo)
			}
		})
	}
}

func TestCompositionFromProfile(t *testing.T) {
	t.Run("plain equity", func(t *testing.T) {
		c := CompositionFromProfile(&InstrumentProfile{
			Symbol:  "RY.TO",
			Sector:  "Financials",
			Country: "CA",
		}, time.Now())

		sectors := c.DimensionWeights(DimensionSector)
		if len(sectors) != 1 || sectors[0].Key.Value != "Financials" {
			t.Errorf("sector buckets = %v, want single Financials", sectors)
		}
		geo := c.DimensionWeights(DimensionGeography)
		if len(geo) != 1 || geo[0].Key.Value != "CA" {
			t.Errorf("geography buckets = %v, want single CA", geo)
		}
		if c.Source != CompositionProvider {
			t.Errorf("source = %q, want provider", c.Source)
		}
	})

	t.Run("fund with weight tables", func(t *testing.T) {
		c := CompositionFromProfile(&InstrumentProfile{
			Symbol: "VEQT.TO",
			IsFund: true,
			SectorWeights: []SectorWeight{
				{Sector: "Financials", Weight: dec("0.35")},
				{Sector: "Energy", Weight: dec("0.65")},
			},
			CountryWeights: []CountryWeight{
				{Country: "CA", Weight: dec("0.30")},
				{Country: "US", Weight: dec("0.70")},
			},
		}, time.Now())

		if got := len(c.DimensionWeights(DimensionSector)); got != 2 {
			t.Errorf("sector buckets = %d, want 2", got)
		}
		if got := len(c.DimensionWeights(DimensionGeography)); got != 2 {
			t.Errorf("geography buckets = %d, want 2", got)
		}
	})

	t.Run("missing fields degrade to unclassified", func(t *testing.T) {
		c := CompositionFromProfile(&InstrumentProfile{Symbol: "UNKNOWN"}, time.Now())
		for _, dim := range Dimensions {
			buckets := c.DimensionWeights(dim)
			if len(buckets) != 1 || buckets[0].Key.Value != UnclassifiedBucket {
				t.Errorf("%s should collapse to Unclassified, got %v", dim, buckets)
			}
		}
	})
}

func TestHolding_ManualComposition(t *testing.T) {
	h := Holding{
		ID:            "house",
		Name:          "Primary Residence",
		Category:      AssetProperty,
		ManualSector:  "Real Estate",
		ManualCountry: "CA",
	}

	c := h.ManualComposition()
	if c == nil {
		t.Fatal("expected a manual composition")
	}
	if c.Source != CompositionManual {
		t.Errorf("source = %q, want manual", c.Source)
	}

	sectors := c.DimensionWeights(DimensionSector)
	if len(sectors) != 1 || sectors[0].Key.Value != "Real Estate" {
		t.Errorf("sector = %v, want single Real Estate", sectors)
	}

	if (Holding{ID: "plain"}).ManualComposition() != nil {
		t.Error("holding without manual classification should return nil")
	}
}
