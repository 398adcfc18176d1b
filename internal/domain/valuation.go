package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldingValuation is the per-holding breakdown of a valuation run.
// MarketValue and gains are nil when the symbol has no usable price, and
// GainPct is nil when the cost basis is zero.
type HoldingValuation struct {
	Holding       Holding
	PortfolioID   string
	PortfolioName string
	Snapshot      PriceSnapshot
	MarketValue   *decimal.Decimal
	GainAbs       *decimal.Decimal
	GainPct       *decimal.Decimal
}

// CurrencyTotal aggregates same-currency figures. Figures from different
// currencies are never folded into one number.
type CurrencyTotal struct {
	Currency    string          `json:"currency"`
	BookValue   decimal.Decimal `json:"book_value"`
	MarketValue decimal.Decimal `json:"market_value"`
	GainAbs     decimal.Decimal `json:"gain_abs"`
	// Display is the market value formatted in the currency's own
	// conventions, for human consumption only.
	Display string `json:"display,omitempty"`
	// Priced counts holdings that contributed a market value; Unpriced
	// counts those skipped for lack of a usable price.
	Priced   int `json:"priced"`
	Unpriced int `json:"unpriced"`
}

// Summary is the aggregate valuation of one portfolio or of all of them.
type Summary struct {
	PortfolioID   string          `json:"portfolio_id"`
	PortfolioName string          `json:"portfolio_name"`
	BaseCurrency  string          `json:"base_currency"`
	Totals        []CurrencyTotal `json:"totals"`
	Symbols       []string        `json:"symbols"`
	HoldingCount  int             `json:"holding_count"`
	RefreshedAt   time.Time       `json:"refreshed_at"`
}
