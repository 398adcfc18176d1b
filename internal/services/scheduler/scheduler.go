// Package scheduler drives the periodic refresh of every symbol the
// portfolios currently reference.
package scheduler

import (
	"context"
	"time"

	"github.com/vadiminshakov/folio/internal/services/pricecache"
	"go.uber.org/zap"
)

// SymbolSource yields the distinct symbols to refresh. It is re-queried on
// every tick because holdings change between ticks.
type SymbolSource interface {
	Symbols() []string
}

// Refresher is the cache side of a refresh cycle.
type Refresher interface {
	Refresh(ctx context.Context, symbols []string) map[string]pricecache.Outcome
}

// Scheduler refreshes prices on a fixed interval. An interval of zero
// disables periodic refresh entirely; on-demand refresh stays available
// through RefreshNow.
type Scheduler struct {
	source   SymbolSource
	cache    Refresher
	interval time.Duration
	logger   *zap.Logger
	ticker   func(d time.Duration) (<-chan time.Time, func())
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTicker overrides the tick source, for deterministic tests.
func WithTicker(ticker func(d time.Duration) (<-chan time.Time, func())) Option {
	return func(s *Scheduler) {
		s.ticker = ticker
	}
}

// New creates a scheduler refreshing prices for source's symbols every
// interval.
func New(source SymbolSource, cache Refresher, interval time.Duration, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		cache:    cache,
		interval: interval,
		logger:   logger,
		ticker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the refresh loop until ctx is cancelled. Ticks never
// overlap: a tick that fires while a cycle is still running is dropped, not
// queued.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("periodic price refresh disabled")
		return nil
	}

	ticks, stop := s.ticker(s.interval)
	defer stop()

	s.logger.Info("starting price refresh loop", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("price refresh loop stopped")
			return ctx.Err()
		case <-ticks:
			s.tick(ctx)
			// Drop the tick that may have fired while the cycle ran.
			select {
			case <-ticks:
			default:
			}
		}
	}
}

// RefreshNow forces an immediate refresh of all currently referenced
// symbols and returns the per-symbol outcomes.
func (s *Scheduler) RefreshNow(ctx context.Context) map[string]pricecache.Outcome {
	return s.cache.Refresh(ctx, s.source.Symbols())
}

func (s *Scheduler) tick(ctx context.Context) {
	symbols := s.source.Symbols()
	if len(symbols) == 0 {
		return
	}

	outcomes := s.cache.Refresh(ctx, symbols)

	failed := 0
	for _, outcome := range outcomes {
		if !outcome.OK {
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn("refresh cycle finished with failures",
			zap.Int("symbols", len(symbols)), zap.Int("failed", failed))
		return
	}
	s.logger.Debug("refresh cycle finished", zap.Int("symbols", len(symbols)))
}
