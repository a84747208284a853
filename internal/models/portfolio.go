// Package models defines data structures for Blindspot
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetCategory is the typed variant tag for a holding. The persistence
// layer may store flexible attributes; inside the core every holding is one
// of these explicit categories.
type AssetCategory string

const (
	AssetLiquid   AssetCategory = "liquid"   // exchange-traded securities and funds
	AssetProperty AssetCategory = "property" // real estate
	AssetBusiness AssetCategory = "business" // private business holdings
	AssetCrypto   AssetCategory = "crypto"
)

// Holding is an owned position supplied by the holdings provider. It is
// read-only to the auditor.
type Holding struct {
	ID       string        `json:"id"`
	Account  string        `json:"account"`
	Name     string        `json:"name"`
	Category AssetCategory `json:"category"`

	// Symbol is empty for non-traded assets (a house, a private business).
	Symbol   string          `json:"symbol,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`

	// MarketValue, when supplied by the provider, is used as-is; otherwise
	// the auditor derives it from quantity and the latest cached close.
	MarketValue Money `json:"market_value"`

	// ProxySymbol redirects price history and composition resolution for a
	// non-traded asset to a traded stand-in (e.g. a real-estate index fund).
	ProxySymbol string `json:"proxy_symbol,omitempty"`

	// Manual classification for assets with no provider data.
	ManualSector  string `json:"manual_sector,omitempty"`
	ManualCountry string `json:"manual_country,omitempty"`
}

// PriceSymbol returns the symbol whose price series represents this holding:
// its own symbol, or the configured proxy for non-traded assets.
func (h Holding) PriceSymbol() string {
	if h.Symbol != "" {
		return h.Symbol
	}
	return h.ProxySymbol
}

// MatrixKey is the identifier this holding appears under in the correlation
// matrix. Proxied assets stay keyed by their own identity so downstream
// consumers never need proxy awareness.
func (h Holding) MatrixKey() string {
	if h.Symbol != "" {
		return h.Symbol
	}
	return h.Name
}

// ManualComposition builds a composition entry from the holding's manual
// classification, if any. Returns nil when the holding carries none.
func (h Holding) ManualComposition() *Composition {
	if h.ManualSector == "" && h.ManualCountry == "" {
		return nil
	}
	one := decimal.NewFromInt(1)
	c := &Composition{
		Symbol: h.MatrixKey(),
		Source: CompositionManual,
	}
	if h.ManualSector != "" {
		c.Buckets = append(c.Buckets, WeightedBucket{
			Key:    BucketKey{Dimension: DimensionSector, Value: h.ManualSector},
			Weight: one,
		})
	}
	if h.ManualCountry != "" {
		c.Buckets = append(c.Buckets, WeightedBucket{
			Key:    BucketKey{Dimension: DimensionGeography, Value: h.ManualCountry},
			Weight: one,
		})
	}
	c.Normalize()
	return c
}

// Liability is a tracked debt balance (mortgage, loan). The balance is a
// positive magnitude.
type Liability struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance Money  `json:"balance"`
}

// Portfolio is the full balance sheet returned by the holdings provider as
// of "now".
type Portfolio struct {
	ID          string      `json:"id"`
	Currency    string      `json:"currency"`
	Holdings    []Holding   `json:"holdings"`
	Liabilities []Liability `json:"liabilities"`
	AsOf        time.Time   `json:"as_of"`
}
