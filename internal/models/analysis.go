// Package models defines data structures for Blindspot
package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ExposureBucket is the portfolio-wide aggregate for one bucket: the summed
// value and its share of total portfolio asset value. Derived per run;
// only the frozen copy inside a snapshot is ever persisted.
type ExposureBucket struct {
	Key     BucketKey       `json:"key"`
	Amount  Money           `json:"amount"`
	Percent decimal.Decimal `json:"percent"` // fraction of total assets, 0.65 = 65%
}

// Severity classifies a concentration alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RuleAnyBucket makes a rule apply independently to every bucket of its
// dimension.
const RuleAnyBucket = "any"

// ConcentrationRule is one configurable threshold check. A bucket breaches
// the rule only when its observed share strictly exceeds the threshold.
type ConcentrationRule struct {
	ID        string          `json:"id"`
	Dimension Dimension       `json:"dimension"`
	Bucket    string          `json:"bucket"`            // specific bucket value or RuleAnyBucket
	Exclude   []string        `json:"exclude,omitempty"` // bucket values exempt from an "any" rule
	Threshold decimal.Decimal `json:"threshold"`         // fraction of total assets
	Severity  Severity        `json:"severity"`
}

// ConcentrationAlert is a single rule breach within one analysis run.
type ConcentrationAlert struct {
	RuleID    string          `json:"rule_id"`
	Dimension Dimension       `json:"dimension"`
	Bucket    string          `json:"bucket"`
	Observed  decimal.Decimal `json:"observed"`
	Threshold decimal.Decimal `json:"threshold"`
	Severity  Severity        `json:"severity"`
}

// CorrelationMatrix is a symmetric map of pairwise Pearson coefficients.
// Pairs with insufficient overlapping history are absent, not zero.
type CorrelationMatrix map[string]map[string]float64

// Set records a coefficient for both orderings of the pair.
func (m CorrelationMatrix) Set(a, b string, coeff float64) {
	if m[a] == nil {
		m[a] = make(map[string]float64)
	}
	if m[b] == nil {
		m[b] = make(map[string]float64)
	}
	m[a][b] = coeff
	m[b][a] = coeff
}

// Get returns the coefficient for a pair, if defined.
func (m CorrelationMatrix) Get(a, b string) (float64, bool) {
	row, ok := m[a]
	if !ok {
		return 0, false
	}
	coeff, ok := row[b]
	return coeff, ok
}

// Keys returns the matrix row keys, sorted.
func (m CorrelationMatrix) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies the matrix.
func (m CorrelationMatrix) Clone() CorrelationMatrix {
	out := make(CorrelationMatrix, len(m))
	for a, row := range m {
		out[a] = make(map[string]float64, len(row))
		for b, coeff := range row {
			out[a][b] = coeff
		}
	}
	return out
}

// HiddenTwin is a pair of holdings whose return series move together closely
// enough to undermine the diversification they appear to provide.
type HiddenTwin struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
	Explanation string  `json:"explanation"`
}

// WarningKind classifies a degraded-data condition recorded on a run.
type WarningKind string

const (
	WarningDataUnavailable  WarningKind = "data_unavailable"
	WarningCompositionStale WarningKind = "composition_stale"
	WarningShortHistory     WarningKind = "short_history"
	WarningProviderError    WarningKind = "provider_error"
)

// RunWarning records a per-symbol degradation so the presentation layer can
// disclose data-quality caveats instead of a falsely confident number.
type RunWarning struct {
	Symbol  string      `json:"symbol,omitempty"`
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// CategoryTotal is the per-asset-category slice of total asset value.
type CategoryTotal struct {
	Category AssetCategory `json:"category"`
	Amount   Money         `json:"amount"`
}

// NetWorthSnapshot is the immutable point-in-time record produced by one
// analysis run. Append-only: supersession happens purely by inserting a new
// snapshot with a later timestamp.
type NetWorthSnapshot struct {
	ID          string    `json:"id"`
	PortfolioID string    `json:"portfolio_id"`
	Timestamp   time.Time `json:"timestamp"` // UTC

	TotalAssets      Money `json:"total_assets"`
	TotalLiabilities Money `json:"total_liabilities"`
	TotalEquity      Money `json:"total_equity"`

	Buckets        []ExposureBucket     `json:"buckets"`
	Alerts         []ConcentrationAlert `json:"alerts"`
	Correlations   CorrelationMatrix    `json:"correlations,omitempty"`
	HiddenTwins    []HiddenTwin         `json:"hidden_twins,omitempty"`
	CategoryTotals []CategoryTotal      `json:"category_totals"`
	Warnings       []RunWarning         `json:"warnings,omitempty"`
}
