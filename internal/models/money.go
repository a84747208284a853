// Package models defines data structures for Blindspot
package models

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Error kinds surfaced by monetary and analysis operations.
var (
	// ErrCurrencyMismatch is returned when arithmetic is attempted between
	// two Money values with different currency codes.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrAllocationInvariant signals an internal defect: the parts of an
	// allocation did not sum exactly to the original total.
	ErrAllocationInvariant = errors.New("allocation invariant violation")

	// ErrDataUnavailable is returned when no price or composition data
	// exists at all for a required symbol.
	ErrDataUnavailable = errors.New("data unavailable")
)

// Money is an exact monetary value: an integer count of minor currency units
// plus a currency code. All portfolio arithmetic happens in cents; the only
// float conversion is the one-way Display formatting.
type Money struct {
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

// NewMoney creates a Money value from a cent count and currency code.
func NewMoney(cents int64, currency string) Money {
	return Money{Cents: cents, Currency: currency}
}

// IsZero reports whether the value is zero cents.
func (m Money) IsZero() bool { return m.Cents == 0 }

// Neg returns the negated value.
func (m Money) Neg() Money { return Money{Cents: -m.Cents, Currency: m.Currency} }

// Add returns m + n. The currencies must match, with one exception: a
// zero-cent value with an empty currency code is neutral and adopts the
// other operand's currency, so sums can start from Money{}.
func (m Money) Add(n Money) (Money, error) {
	cur, err := matchCurrency(m, n)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: m.Cents + n.Cents, Currency: cur}, nil
}

// Sub returns m - n. Currency rules are as for Add: a zero-cent,
// empty-currency operand is neutral.
func (m Money) Sub(n Money) (Money, error) {
	cur, err := matchCurrency(m, n)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: m.Cents - n.Cents, Currency: cur}, nil
}

// matchCurrency resolves the currency for a binary operation. A zero value
// with an empty currency code is treated as currency-neutral so that sums can
// start from Money{}.
func matchCurrency(a, b Money) (string, error) {
	if a.Currency == "" && a.Cents == 0 {
		return b.Currency, nil
	}
	if b.Currency == "" && b.Cents == 0 {
		return a.Currency, nil
	}
	if a.Currency != b.Currency {
		return "", fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	return a.Currency, nil
}

// Scale multiplies the value by an exact factor and rounds to the nearest
// cent using banker's rounding (round-half-to-even), avoiding systematic bias
// when a value is split across many buckets.
func (m Money) Scale(factor decimal.Decimal) Money {
	scaled := decimal.NewFromInt(m.Cents).Mul(factor).RoundBank(0)
	return Money{Cents: scaled.IntPart(), Currency: m.Currency}
}

// Allocate distributes the value across fractional weights using the largest
// remainder method: floor(total x weight) per bucket, then the residual cents
// one at a time to the buckets with the largest fractional remainder, ties
// broken by ascending index. Callers pass weights in bucket-key ascending
// order so tie-breaking is deterministic.
//
// The parts always sum exactly to the original total. Negative totals
// allocate the absolute value and negate each part.
func (m Money) Allocate(weights []decimal.Decimal) ([]Money, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("allocate: no weights")
	}
	for i, w := range weights {
		if w.IsNegative() {
			return nil, fmt.Errorf("allocate: negative weight at index %d", i)
		}
	}

	if m.Cents < 0 {
		parts, err := m.Neg().Allocate(weights)
		if err != nil {
			return nil, err
		}
		for i := range parts {
			parts[i] = parts[i].Neg()
		}
		return parts, nil
	}

	total := decimal.NewFromInt(m.Cents)
	parts := make([]int64, len(weights))
	remainders := make([]decimal.Decimal, len(weights))

	var allocated int64
	for i, w := range weights {
		exact := total.Mul(w)
		floor := exact.Floor()
		parts[i] = floor.IntPart()
		remainders[i] = exact.Sub(floor)
		allocated += parts[i]
	}

	// Index order by descending remainder, ties by ascending index.
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].GreaterThan(remainders[order[b]])
	})

	// Distribute leftover cents forward; claw back over-allocation (weights
	// summing slightly above 1) from the smallest remainders first.
	residual := m.Cents - allocated
	for i := 0; residual > 0; i++ {
		parts[order[i%len(order)]]++
		residual--
	}
	for i := 0; residual < 0; i++ {
		parts[order[len(order)-1-(i%len(order))]]--
		residual++
	}

	result := make([]Money, len(parts))
	var check int64
	for i, c := range parts {
		result[i] = Money{Cents: c, Currency: m.Currency}
		check += c
	}
	if check != m.Cents {
		return nil, fmt.Errorf("%w: parts sum %d != total %d", ErrAllocationInvariant, check, m.Cents)
	}
	return result, nil
}

// Display formats the value for human output. This is the single, explicit,
// one-way float conversion permitted for Money.
func (m Money) Display() string {
	return fmt.Sprintf("%s %.2f", m.Currency, float64(m.Cents)/100)
}
