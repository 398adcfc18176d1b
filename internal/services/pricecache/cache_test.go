package pricecache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/folio/internal/domain"
	"github.com/vadiminshakov/folio/internal/services/pricer"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakePricer struct {
	mu     sync.Mutex
	calls  map[string]int
	prices map[string]decimal.Decimal
	errs   map[string]error
	block  chan struct{}
	clock  *fakeClock
}

func newFakePricer(clock *fakeClock) *fakePricer {
	return &fakePricer{
		calls:  make(map[string]int),
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
		clock:  clock,
	}
}

func (f *fakePricer) setPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
	delete(f.errs, symbol)
}

func (f *fakePricer) setError(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[symbol] = err
}

func (f *fakePricer) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func (f *fakePricer) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	f.calls[symbol]++
	block := f.block
	err := f.errs[symbol]
	price := f.prices[symbol]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		Symbol:    symbol,
		Price:     price,
		Currency:  "USD",
		FetchedAt: f.clock.Now(),
	}, nil
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *fakePricer, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	fp := newFakePricer(clock)
	cache := New(fp, ttl, zap.NewNop(), WithClock(clock.Now))
	return cache, fp, clock
}

func TestCache_Get(t *testing.T) {
	t.Run("cache miss fetches synchronously", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		snap, err := cache.Get(context.Background(), "aaa", true)
		require.NoError(t, err)
		assert.Equal(t, "AAA", snap.Symbol)
		assert.True(t, snap.Price.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, domain.FreshnessFresh, snap.Freshness)
		assert.Equal(t, 1, fp.callCount("AAA"))
	})

	t.Run("fresh hit does not call the provider", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		_, err := cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)
		_, err = cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)

		assert.Equal(t, 1, fp.callCount("AAA"))
	})

	t.Run("expired snapshot is never reported fresh", func(t *testing.T) {
		cache, fp, clock := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		_, err := cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)

		// Exactly TTL old counts as stale already.
		clock.Advance(300 * time.Second)
		snap, _ := cache.Snapshot("AAA")
		assert.Equal(t, domain.FreshnessStale, snap.Freshness)
	})

	t.Run("stale-allowed read returns old value and refreshes in background", func(t *testing.T) {
		cache, fp, clock := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		_, err := cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)

		clock.Advance(301 * time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(12))

		snap, err := cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)
		assert.True(t, snap.Price.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, domain.FreshnessStale, snap.Freshness)

		require.Eventually(t, func() bool {
			return fp.callCount("AAA") == 2
		}, time.Second, time.Millisecond)

		require.Eventually(t, func() bool {
			snap, _ := cache.Snapshot("AAA")
			return snap.Price.Equal(decimal.NewFromInt(12)) && snap.Freshness == domain.FreshnessFresh
		}, time.Second, time.Millisecond)
	})

	t.Run("strict read blocks on refresh when expired", func(t *testing.T) {
		cache, fp, clock := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		_, err := cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)

		clock.Advance(301 * time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(12))

		snap, err := cache.Get(context.Background(), "AAA", false)
		require.NoError(t, err)
		assert.True(t, snap.Price.Equal(decimal.NewFromInt(12)))
		assert.Equal(t, domain.FreshnessFresh, snap.Freshness)
		assert.Equal(t, 2, fp.callCount("AAA"))
	})

	t.Run("provider failure keeps the old snapshot servable", func(t *testing.T) {
		cache, fp, clock := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		_, err := cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)

		clock.Advance(301 * time.Second)
		fp.setError("AAA", pricer.ErrServiceUnavailable)

		snap, err := cache.Get(context.Background(), "AAA", false)
		require.NoError(t, err)
		assert.True(t, snap.Price.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, domain.FreshnessStale, snap.Freshness)
		assert.NotEmpty(t, snap.RefreshError)
	})

	t.Run("provider failure without prior snapshot is unavailable", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setError("BBB", pricer.ErrUnknownSymbol)

		snap, err := cache.Get(context.Background(), "BBB", true)
		require.Error(t, err)
		assert.Equal(t, domain.FreshnessUnavailable, snap.Freshness)
		assert.False(t, snap.HasPrice())
	})
}

func TestCache_Lookup(t *testing.T) {
	t.Run("fresh snapshot returns without a provider call", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		_, err := cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)

		snap, known := cache.Lookup(context.Background(), "AAA")
		require.True(t, known)
		assert.Equal(t, domain.FreshnessFresh, snap.Freshness)
		assert.Equal(t, 1, fp.callCount("AAA"))
	})

	t.Run("stale snapshot is served and refreshed in background", func(t *testing.T) {
		cache, fp, clock := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		_, err := cache.Get(context.Background(), "AAA", true)
		require.NoError(t, err)

		clock.Advance(301 * time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(12))

		snap, known := cache.Lookup(context.Background(), "AAA")
		require.True(t, known)
		assert.True(t, snap.Price.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, domain.FreshnessStale, snap.Freshness)

		require.Eventually(t, func() bool {
			snap, _ := cache.Snapshot("AAA")
			return snap.Price.Equal(decimal.NewFromInt(12)) && snap.Freshness == domain.FreshnessFresh
		}, time.Second, time.Millisecond)
	})

	t.Run("unknown symbol never fetches", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)

		snap, known := cache.Lookup(context.Background(), "BBB")
		assert.False(t, known)
		assert.Equal(t, domain.FreshnessUnavailable, snap.Freshness)
		assert.Equal(t, 0, fp.callCount("BBB"))
	})
}

func TestCache_SingleFlight(t *testing.T) {
	t.Run("concurrent misses coalesce into one provider call", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))
		fp.block = make(chan struct{})

		const n = 10
		var wg sync.WaitGroup
		results := make([]domain.PriceSnapshot, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				snap, err := cache.Get(context.Background(), "AAA", false)
				assert.NoError(t, err)
				results[i] = snap
			}(i)
		}

		// Let the requesters pile up on the in-flight fetch.
		require.Eventually(t, func() bool {
			return fp.callCount("AAA") >= 1
		}, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		close(fp.block)
		wg.Wait()

		assert.Equal(t, 1, fp.callCount("AAA"))
		for _, snap := range results {
			assert.True(t, snap.Price.Equal(decimal.NewFromInt(10)))
		}
	})

	t.Run("concurrent forced refreshes share one provider call", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("BBB", decimal.NewFromInt(7))
		fp.block = make(chan struct{})

		var wg sync.WaitGroup
		outcomes := make([]map[string]Outcome, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = cache.Refresh(context.Background(), []string{"BBB"})
			}(i)
		}

		require.Eventually(t, func() bool {
			return fp.callCount("BBB") >= 1
		}, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		close(fp.block)
		wg.Wait()

		assert.Equal(t, 1, fp.callCount("BBB"))
		for _, out := range outcomes {
			require.Contains(t, out, "BBB")
			assert.True(t, out["BBB"].OK)
			assert.True(t, out["BBB"].Snapshot.Price.Equal(decimal.NewFromInt(7)))
		}
	})

	t.Run("sequential refreshes fetch again", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("BBB", decimal.NewFromInt(7))

		cache.Refresh(context.Background(), []string{"BBB"})
		cache.Refresh(context.Background(), []string{"BBB"})

		assert.Equal(t, 2, fp.callCount("BBB"))
	})
}

func TestCache_Refresh(t *testing.T) {
	t.Run("reports per-symbol outcomes", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))
		fp.setError("BAD", pricer.ErrUnknownSymbol)

		outcomes := cache.Refresh(context.Background(), []string{"AAA", "BAD"})

		require.Len(t, outcomes, 2)
		assert.True(t, outcomes["AAA"].OK)
		assert.False(t, outcomes["BAD"].OK)
		assert.NotEmpty(t, outcomes["BAD"].Error)
	})

	t.Run("deduplicates symbols within one call", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		outcomes := cache.Refresh(context.Background(), []string{"AAA", "aaa"})

		assert.Len(t, outcomes, 1)
		assert.Equal(t, 1, fp.callCount("AAA"))
	})

	t.Run("failed refresh retains previous price", func(t *testing.T) {
		cache, fp, _ := newTestCache(t, 300*time.Second)
		fp.setPrice("AAA", decimal.NewFromInt(10))

		cache.Refresh(context.Background(), []string{"AAA"})
		fp.setError("AAA", pricer.ErrServiceUnavailable)
		outcomes := cache.Refresh(context.Background(), []string{"AAA"})

		assert.False(t, outcomes["AAA"].OK)
		assert.True(t, outcomes["AAA"].Snapshot.Price.Equal(decimal.NewFromInt(10)))
		assert.True(t, outcomes["AAA"].Snapshot.HasPrice())
	})
}
