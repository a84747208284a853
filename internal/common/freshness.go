// Package common provides shared utilities for Blindspot
package common

import "time"

// Freshness TTLs for cached external data
const (
	// FreshnessMarketData bounds how old a cached price series or fund
	// composition may be before a provider refresh is attempted.
	FreshnessMarketData = 24 * time.Hour
)

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	return IsFreshAt(updated, ttl, time.Now())
}

// IsFreshAt is IsFresh evaluated against an explicit clock
func IsFreshAt(updated time.Time, ttl time.Duration, now time.Time) bool {
	if updated.IsZero() {
		return false
	}
	return now.Sub(updated) < ttl
}
