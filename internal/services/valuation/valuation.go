// Package valuation computes market value and PnL views over the portfolio
// model and the price cache. It is pure: no provider calls, no blocking on
// refreshes, no side effects.
package valuation

import (
	"sort"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/folio/internal/domain"
)

// PriceLookup is a non-blocking, stale-allowed view into cached prices.
type PriceLookup interface {
	Snapshot(symbol string) (domain.PriceSnapshot, bool)
}

// Positions produces the per-holding breakdown for the given portfolios.
// Holdings without a usable price get nil market value and gains instead of
// zeros leaking into the math.
func Positions(portfolios []domain.Portfolio, prices PriceLookup, baseCurrency string) []domain.HoldingValuation {
	var out []domain.HoldingValuation
	for _, p := range portfolios {
		for _, h := range p.Holdings {
			snap, _ := prices.Snapshot(h.Symbol)

			hv := domain.HoldingValuation{
				Holding:       h.Clone(),
				PortfolioID:   p.ID,
				PortfolioName: p.Name,
				Snapshot:      snap,
			}

			if snap.HasPrice() {
				mv := snap.Price.Mul(h.Quantity)
				book := h.BookValue()
				gain := mv.Sub(book)
				hv.MarketValue = &mv
				hv.GainAbs = &gain
				if book.IsPositive() {
					pct := gain.Div(book)
					hv.GainPct = &pct
				}
			}

			out = append(out, hv)
		}
	}
	return out
}

// Summarize aggregates positions into currency-bucketed totals. Figures in
// different currencies are never summed together; each bucket carries its
// own subtotal. now stamps the summary when no snapshot supplied a
// timestamp.
func Summarize(scopeID, scopeName, baseCurrency string, positions []domain.HoldingValuation, now time.Time) domain.Summary {
	buckets := make(map[string]*domain.CurrencyTotal)
	symbolSet := make(map[string]struct{})
	var refreshedAt time.Time

	for _, pos := range positions {
		symbolSet[strings.ToUpper(pos.Holding.Symbol)] = struct{}{}

		currency := bucketCurrency(pos, baseCurrency)
		bucket, ok := buckets[currency]
		if !ok {
			bucket = &domain.CurrencyTotal{Currency: currency}
			buckets[currency] = bucket
		}

		bucket.BookValue = bucket.BookValue.Add(pos.Holding.BookValue())
		if pos.MarketValue != nil {
			bucket.MarketValue = bucket.MarketValue.Add(*pos.MarketValue)
			bucket.GainAbs = bucket.GainAbs.Add(*pos.GainAbs)
			bucket.Priced++
		} else {
			bucket.Unpriced++
		}

		if ts := pos.Snapshot.FetchedAt; ts.After(refreshedAt) {
			refreshedAt = ts
		}
	}

	totals := make([]domain.CurrencyTotal, 0, len(buckets))
	for _, bucket := range buckets {
		bucket.Display = formatAmount(bucket.MarketValue, bucket.Currency)
		totals = append(totals, *bucket)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Currency < totals[j].Currency })

	symbols := make([]string, 0, len(symbolSet))
	for symbol := range symbolSet {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	if refreshedAt.IsZero() {
		refreshedAt = now
	}

	return domain.Summary{
		PortfolioID:   scopeID,
		PortfolioName: scopeName,
		BaseCurrency:  baseCurrency,
		Totals:        totals,
		Symbols:       symbols,
		HoldingCount:  len(positions),
		RefreshedAt:   refreshedAt,
	}
}

// bucketCurrency picks the currency a position's figures belong to: the
// holding's own currency, else the quote currency, else the base currency.
func bucketCurrency(pos domain.HoldingValuation, baseCurrency string) string {
	if pos.Holding.Currency != "" {
		return strings.ToUpper(pos.Holding.Currency)
	}
	if pos.Snapshot.Currency != "" {
		return strings.ToUpper(pos.Snapshot.Currency)
	}
	return strings.ToUpper(baseCurrency)
}

// formatAmount renders an amount in the currency's display conventions, or
// empty when the code is not a known ISO currency.
func formatAmount(amount decimal.Decimal, code string) string {
	currency := money.GetCurrency(code)
	if currency == nil {
		return ""
	}
	minor := amount.Shift(int32(currency.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}
