package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single price observation returned by a quote provider.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Currency  string
	FetchedAt time.Time
}

// Freshness describes how trustworthy a cached price snapshot is.
type Freshness string

const (
	// FreshnessFresh means the snapshot is younger than the configured TTL.
	FreshnessFresh Freshness = "fresh"
	// FreshnessStale means the snapshot outlived its TTL but is still the
	// best known value.
	FreshnessStale Freshness = "stale"
	// FreshnessUnavailable means no price was ever fetched for the symbol.
	FreshnessUnavailable Freshness = "unavailable"
)

// PriceSnapshot is the cache's view of a symbol: the last known quote plus
// a freshness verdict computed against the TTL at read time.
type PriceSnapshot struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Freshness Freshness       `json:"freshness"`
	// RefreshError holds the last refresh failure for a symbol whose old
	// snapshot is still being served, or the fetch failure for a symbol
	// that never had one.
	RefreshError string `json:"refresh_error,omitempty"`
}

// HasPrice reports whether the snapshot carries a usable price.
func (s PriceSnapshot) HasPrice() bool {
	return s.Freshness != FreshnessUnavailable
}

// FreshnessFor classifies an observation age against a TTL. An age exactly
// equal to the TTL is already stale.
func FreshnessFor(fetchedAt, now time.Time, ttl time.Duration) Freshness {
	if now.Sub(fetchedAt) < ttl {
		return FreshnessFresh
	}
	return FreshnessStale
}
