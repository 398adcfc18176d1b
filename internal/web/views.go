package web

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/folio/internal/domain"
)

type holdingPayload struct {
	ID        string          `json:"id,omitempty"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	Currency  string          `json:"currency,omitempty"`
	Name      string          `json:"name,omitempty"`
	Broker    string          `json:"broker,omitempty"`
	Category  string          `json:"category,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

func holdingView(h domain.Holding) holdingPayload {
	return holdingPayload{
		ID:        h.ID,
		Symbol:    h.Symbol,
		Quantity:  h.Quantity,
		CostBasis: h.CostBasis,
		Currency:  h.Currency,
		Name:      h.Name,
		Broker:    h.Broker,
		Category:  h.Category,
		Notes:     h.Notes,
	}
}

type portfolioPayload struct {
	ID       string           `json:"id"`
	Name     string           `json:"name,omitempty"`
	Notes    string           `json:"notes,omitempty"`
	Holdings []holdingPayload `json:"holdings"`
}

func portfolioView(p domain.Portfolio) portfolioPayload {
	holdings := make([]holdingPayload, len(p.Holdings))
	for i, h := range p.Holdings {
		holdings[i] = holdingView(h)
	}
	return portfolioPayload{ID: p.ID, Name: p.Name, Notes: p.Notes, Holdings: holdings}
}

type positionView struct {
	Holding       holdingPayload       `json:"holding"`
	PortfolioID   string               `json:"portfolio_id"`
	PortfolioName string               `json:"portfolio_name,omitempty"`
	Quote         domain.PriceSnapshot `json:"quote"`
	MarketValue   *decimal.Decimal     `json:"market_value,omitempty"`
	GainAbs       *decimal.Decimal     `json:"gain_abs,omitempty"`
	GainPct       *decimal.Decimal     `json:"gain_pct,omitempty"`
}

func newPositionView(pos domain.HoldingValuation) positionView {
	return positionView{
		Holding:       holdingView(pos.Holding),
		PortfolioID:   pos.PortfolioID,
		PortfolioName: pos.PortfolioName,
		Quote:         pos.Snapshot,
		MarketValue:   pos.MarketValue,
		GainAbs:       pos.GainAbs,
		GainPct:       pos.GainPct,
	}
}
