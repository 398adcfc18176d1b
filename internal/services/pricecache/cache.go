// Package pricecache keeps the last known quote per symbol and decides when
// a cached value is still trustworthy. Concurrent fetches for one symbol
// collapse into a single provider call.
package pricecache

import (
	"context"
	"sync"
	"time"

	"github.com/vadiminshakov/folio/internal/domain"
	"github.com/vadiminshakov/folio/internal/services/pricer"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache maps symbol to the most recent known quote. Stale quotes are kept
// and served flagged rather than dropped, so a provider outage degrades
// gracefully.
type Cache struct {
	pricer pricer.Pricer
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	quote    domain.Quote
	hasQuote bool
	lastErr  string
}

// Outcome is the per-symbol result of a refresh.
type Outcome struct {
	Symbol   string               `json:"symbol"`
	OK       bool                 `json:"ok"`
	Error    string               `json:"error,omitempty"`
	Snapshot domain.PriceSnapshot `json:"snapshot"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache that fetches through p and considers quotes fresh for
// ttl after retrieval.
func New(p pricer.Pricer, ttl time.Duration, logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		pricer:  p,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the snapshot for symbol. A fresh cached quote is served as is.
// An expired quote is served immediately when allowStale is set, with a
// background refresh kicked off; otherwise Get blocks on a synchronous
// fetch. A symbol never seen before always fetches synchronously.
func (c *Cache) Get(ctx context.Context, symbol string, allowStale bool) (domain.PriceSnapshot, error) {
	key := pricer.NormalizeSymbol(symbol)

	snap, known := c.Snapshot(key)
	if known && snap.HasPrice() {
		if snap.Freshness == domain.FreshnessFresh {
			return snap, nil
		}
		if allowStale {
			go c.refreshOne(context.WithoutCancel(ctx), key)
			return snap, nil
		}
	}

	err := c.refreshOne(ctx, key)
	snap, _ = c.Snapshot(key)
	if err != nil && snap.HasPrice() {
		// Old quote survives a failed refresh.
		return snap, nil
	}
	return snap, err
}

// Lookup returns the current snapshot without ever blocking. A stale
// snapshot additionally kicks a background refresh, so reads converge on a
// fresh price even when the periodic refresh loop is disabled.
func (c *Cache) Lookup(ctx context.Context, symbol string) (domain.PriceSnapshot, bool) {
	snap, known := c.Snapshot(symbol)
	if known && snap.HasPrice() && snap.Freshness == domain.FreshnessStale {
		go c.refreshOne(context.WithoutCancel(ctx), snap.Symbol)
	}
	return snap, known
}

// Refresh forces a fetch for every given symbol regardless of TTL and
// reports a per-symbol outcome. Fetches already in flight are joined, not
// duplicated.
func (c *Cache) Refresh(ctx context.Context, symbols []string) map[string]Outcome {
	outcomes := make(map[string]Outcome, len(symbols))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	seen := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		key := pricer.NormalizeSymbol(symbol)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			err := c.refreshOne(ctx, key)
			snap, _ := c.Snapshot(key)
			outcome := Outcome{Symbol: key, OK: err == nil, Snapshot: snap}
			if err != nil {
				outcome.Error = err.Error()
			}
			mu.Lock()
			outcomes[key] = outcome
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	return outcomes
}

// Snapshot returns the current view of a symbol without triggering any
// fetch. The second return value is false when the symbol was never
// requested before.
func (c *Cache) Snapshot(symbol string) (domain.PriceSnapshot, bool) {
	key := pricer.NormalizeSymbol(symbol)

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.PriceSnapshot{Symbol: key, Freshness: domain.FreshnessUnavailable}, false
	}
	return c.snapshotOf(key, e), true
}

// Snapshots returns the non-blocking view for a set of symbols.
func (c *Cache) Snapshots(symbols []string) map[string]domain.PriceSnapshot {
	out := make(map[string]domain.PriceSnapshot, len(symbols))
	for _, symbol := range symbols {
		snap, _ := c.Snapshot(symbol)
		out[snap.Symbol] = snap
	}
	return out
}

// refreshOne fetches a symbol through the provider, collapsing concurrent
// callers into one call. The cache entry update is atomic per symbol.
func (c *Cache) refreshOne(ctx context.Context, key string) error {
	_, err, _ := c.group.Do(key, func() (any, error) {
		quote, err := c.pricer.GetQuote(ctx, key)

		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			e = &entry{}
			c.entries[key] = e
		}
		if err != nil {
			e.lastErr = err.Error()
		} else {
			if quote.FetchedAt.IsZero() {
				quote.FetchedAt = c.now()
			}
			e.quote = quote
			e.hasQuote = true
			e.lastErr = ""
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("quote refresh failed", zap.String("symbol", key), zap.Error(err))
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (c *Cache) snapshotOf(key string, e *entry) domain.PriceSnapshot {
	if !e.hasQuote {
		return domain.PriceSnapshot{
			Symbol:       key,
			Freshness:    domain.FreshnessUnavailable,
			RefreshError: e.lastErr,
		}
	}
	return domain.PriceSnapshot{
		Symbol:       key,
		Price:        e.quote.Price,
		Currency:     e.quote.Currency,
		FetchedAt:    e.quote.FetchedAt,
		Freshness:    domain.FreshnessFor(e.quote.FetchedAt, c.now(), c.ttl),
		RefreshError: e.lastErr,
	}
}
