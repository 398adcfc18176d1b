package internal

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/folio/config"
	"github.com/vadiminshakov/folio/internal/domain"
	"github.com/vadiminshakov/folio/internal/services/pricecache"
	"github.com/vadiminshakov/folio/internal/services/pricer"
	"github.com/vadiminshakov/folio/internal/services/scheduler"
	"github.com/vadiminshakov/folio/internal/services/valuation"
	"github.com/vadiminshakov/folio/internal/storage/portfolio"
	"github.com/vadiminshakov/folio/pkg/retrier"
	"go.uber.org/zap"
)

// App wires the portfolio store, the price cache, and the refresh scheduler
// together and exposes the operation set served to external agents.
type App struct {
	logger   *zap.Logger
	store    *portfolio.Store
	cache    *pricecache.Cache
	sched    *scheduler.Scheduler
	searcher pricer.SymbolSearcher
}

// NewApp builds the full service graph from configuration.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	yahoo, err := pricer.NewYahooPricer(logger.Named("pricer"), cfg.ProxyURL)
	if err != nil {
		return nil, errors.Wrap(err, "create quote provider")
	}

	quoteSource := pricer.WithRetry(yahoo, retrier.WithMaxRetries(cfg.MaxRetries))

	store, err := portfolio.Open(cfg.HoldingsFile, logger.Named("store"))
	if err != nil {
		return nil, errors.Wrap(err, "open holdings file")
	}

	cache := pricecache.New(quoteSource, cfg.PriceTTL, logger.Named("pricecache"))
	sched := scheduler.New(store, cache, cfg.RefreshInterval, logger.Named("scheduler"))

	return NewAppWith(store, cache, sched, yahoo, logger), nil
}

// NewAppWith assembles an App from prebuilt components.
func NewAppWith(store *portfolio.Store, cache *pricecache.Cache, sched *scheduler.Scheduler, searcher pricer.SymbolSearcher, logger *zap.Logger) *App {
	return &App{
		logger:   logger,
		store:    store,
		cache:    cache,
		sched:    sched,
		searcher: searcher,
	}
}

// Scheduler returns the refresh loop for the caller to run.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// WarmUp performs the initial refresh of all tracked symbols. Provider
// failures are logged, not fatal; stale-tolerant reads cover the gap.
func (a *App) WarmUp(ctx context.Context) {
	outcomes := a.sched.RefreshNow(ctx)
	failed := 0
	for _, outcome := range outcomes {
		if !outcome.OK {
			failed++
		}
	}
	a.logger.Info("initial price warm-up finished",
		zap.Int("symbols", len(outcomes)), zap.Int("failed", failed))
}

// ListPortfolios returns the synthetic "all" entry followed by every
// portfolio in file order.
func (a *App) ListPortfolios() []domain.PortfolioInfo {
	infos := a.store.ListPortfolios()
	total := 0
	for _, info := range infos {
		total += info.HoldingCount
	}
	combined := domain.PortfolioInfo{
		ID:           domain.AggregatePortfolioID,
		Name:         "All Portfolios",
		HoldingCount: total,
	}
	return append([]domain.PortfolioInfo{combined}, infos...)
}

// priceLookup adapts the cache to the valuation read path: snapshots never
// block, and stale symbols get a background refresh kicked so later reads
// converge.
type priceLookup struct {
	ctx   context.Context
	cache *pricecache.Cache
}

func (l priceLookup) Snapshot(symbol string) (domain.PriceSnapshot, bool) {
	return l.cache.Lookup(l.ctx, symbol)
}

// Positions returns the valued holdings for one portfolio or all of them,
// optionally filtered by symbol. Prices come from the cache without
// blocking on any in-flight refresh; stale prices are served as is and
// refreshed in the background.
func (a *App) Positions(ctx context.Context, portfolioID, symbol string) ([]domain.HoldingValuation, error) {
	scope, err := a.scope(portfolioID)
	if err != nil {
		return nil, err
	}

	positions := valuation.Positions(scope, priceLookup{ctx: ctx, cache: a.cache}, a.store.BaseCurrency())

	if symbol != "" {
		target := pricer.NormalizeSymbol(symbol)
		filtered := positions[:0]
		for _, pos := range positions {
			if pricer.NormalizeSymbol(pos.Holding.Symbol) == target {
				filtered = append(filtered, pos)
			}
		}
		positions = filtered
	}

	return positions, nil
}

// Summary aggregates one portfolio or all of them into currency-bucketed
// totals.
func (a *App) Summary(ctx context.Context, portfolioID string) (domain.Summary, error) {
	scope, err := a.scope(portfolioID)
	if err != nil {
		return domain.Summary{}, err
	}

	scopeID := domain.AggregatePortfolioID
	scopeName := "All Portfolios"
	if portfolioID != "" && portfolioID != domain.AggregatePortfolioID {
		scopeID = scope[0].ID
		scopeName = scope[0].Name
	}

	positions := valuation.Positions(scope, priceLookup{ctx: ctx, cache: a.cache}, a.store.BaseCurrency())
	return valuation.Summarize(scopeID, scopeName, a.store.BaseCurrency(), positions, time.Now().UTC()), nil
}

// Quote returns the price snapshot for one symbol. A fresh cached quote is
// served as is; a stale one is served immediately with a background refresh
// unless allowStale is false, in which case the call blocks on a fetch. A
// never-seen symbol always fetches.
func (a *App) Quote(ctx context.Context, symbol string, allowStale bool) (domain.PriceSnapshot, error) {
	if strings.TrimSpace(symbol) == "" {
		return domain.PriceSnapshot{}, domain.NewValidationError("symbol", "must not be empty")
	}
	return a.cache.Get(ctx, symbol, allowStale)
}

func (a *App) scope(portfolioID string) ([]domain.Portfolio, error) {
	if portfolioID == "" || portfolioID == domain.AggregatePortfolioID {
		return a.store.Portfolios(), nil
	}
	p, err := a.store.Portfolio(portfolioID)
	if err != nil {
		return nil, err
	}
	return []domain.Portfolio{p}, nil
}

// RefreshPrices forces an immediate refresh of every tracked symbol and
// reports per-symbol outcomes.
func (a *App) RefreshPrices(ctx context.Context) map[string]pricecache.Outcome {
	return a.sched.RefreshNow(ctx)
}

// Reload re-reads the holdings file from disk.
func (a *App) Reload() error {
	return a.store.Reload()
}

// SearchSymbols queries the quote source for symbols matching a ticker code
// or a company name.
func (a *App) SearchSymbols(ctx context.Context, query string, limit int) ([]pricer.SymbolMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	return a.searcher.SearchSymbols(ctx, query, limit)
}

// CreatePortfolio adds an empty portfolio.
func (a *App) CreatePortfolio(id, name, notes string) (domain.Portfolio, error) {
	return a.store.CreatePortfolio(id, name, notes)
}

// UpdatePortfolio changes portfolio metadata.
func (a *App) UpdatePortfolio(id string, update portfolio.PortfolioUpdate) (domain.Portfolio, error) {
	return a.store.UpdatePortfolio(id, update)
}

// DeletePortfolio removes a portfolio, requiring force when it still has
// holdings.
func (a *App) DeletePortfolio(id string, force bool) (domain.Portfolio, error) {
	return a.store.DeletePortfolio(id, force)
}

// AddHoldingParams describes a holding to add. When Symbol is empty and
// SearchQuery is set, the top search match is used.
type AddHoldingParams struct {
	PortfolioID string
	Symbol      string
	SearchQuery string
	Quantity    float64
	CostBasis   float64
	Currency    string
	Name        string
	Broker      string
	Category    string
	Notes       string
	HoldingID   string
	SearchLimit int
}

// AddHoldingResult reports the stored holding plus any search matches that
// were considered during symbol resolution.
type AddHoldingResult struct {
	Holding       domain.Holding       `json:"holding"`
	SearchMatches []pricer.SymbolMatch `json:"search_matches,omitempty"`
}

// AddHolding resolves the symbol if needed, stores the holding, and primes
// the cache for the new symbol so the next valuation has a price.
func (a *App) AddHolding(ctx context.Context, params AddHoldingParams) (AddHoldingResult, error) {
	symbol := strings.TrimSpace(params.Symbol)
	var matches []pricer.SymbolMatch

	if symbol == "" && params.SearchQuery != "" {
		limit := params.SearchLimit
		if limit < 1 {
			limit = 5
		}
		found, err := a.searcher.SearchSymbols(ctx, params.SearchQuery, limit)
		if err != nil {
			return AddHoldingResult{}, errors.Wrapf(err, "symbol search for %q", params.SearchQuery)
		}
		if len(found) == 0 {
			return AddHoldingResult{}, domain.NewValidationError("search_query", "no symbols found for %q", params.SearchQuery)
		}
		matches = found
		symbol = found[0].Symbol
	}
	if symbol == "" {
		return AddHoldingResult{}, domain.NewValidationError("symbol", "symbol or search_query must be provided")
	}

	holding := domain.Holding{
		ID:        params.HoldingID,
		Symbol:    symbol,
		Quantity:  decimal.NewFromFloat(params.Quantity),
		CostBasis: decimal.NewFromFloat(params.CostBasis),
		Currency:  params.Currency,
		Name:      params.Name,
		Broker:    params.Broker,
		Category:  params.Category,
		Notes:     params.Notes,
	}

	saved, err := a.store.AddHolding(params.PortfolioID, holding)
	if err != nil {
		return AddHoldingResult{}, err
	}

	a.primeSymbol(ctx, saved.Symbol)

	return AddHoldingResult{Holding: saved, SearchMatches: matches}, nil
}

// RemoveHolding deletes a holding found by id, symbol, or fuzzy match.
func (a *App) RemoveHolding(portfolioID, key string) (domain.Holding, error) {
	return a.store.RemoveHolding(portfolioID, key)
}

// UpdateHolding changes fields of an existing holding.
func (a *App) UpdateHolding(ctx context.Context, portfolioID, key string, update portfolio.HoldingUpdate) (domain.Holding, error) {
	holding, err := a.store.UpdateHolding(portfolioID, key, update)
	if err != nil {
		return domain.Holding{}, err
	}
	if update.Symbol != nil {
		a.primeSymbol(ctx, holding.Symbol)
	}
	return holding, nil
}

// primeSymbol fetches a price for a newly referenced symbol. Failure is
// tolerable; the valuation reports the symbol unavailable until the next
// refresh succeeds.
func (a *App) primeSymbol(ctx context.Context, symbol string) {
	outcomes := a.cache.Refresh(ctx, []string{symbol})
	for _, outcome := range outcomes {
		if !outcome.OK {
			a.logger.Warn("priming price failed",
				zap.String("symbol", outcome.Symbol), zap.String("error", outcome.Error))
		}
	}
}
