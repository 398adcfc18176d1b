package portfolio

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/folio/internal/domain"
)

// fileDocument is the on-disk shape of the holdings file. A legacy file may
// carry a flat holdings list instead of portfolio containers; it is promoted
// to a single "default" portfolio at load time.
type fileDocument struct {
	BaseCurrency string          `yaml:"base_currency"`
	Portfolios   []filePortfolio `yaml:"portfolios,omitempty"`
	Holdings     []fileHolding   `yaml:"holdings,omitempty"`
}

type filePortfolio struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name,omitempty"`
	Notes    string        `yaml:"notes,omitempty"`
	Holdings []fileHolding `yaml:"holdings"`
}

type fileHolding struct {
	ID        string  `yaml:"id,omitempty"`
	Symbol    string  `yaml:"symbol"`
	Quantity  float64 `yaml:"quantity"`
	CostBasis float64 `yaml:"cost_basis"`
	Currency  string  `yaml:"currency,omitempty"`
	Name      string  `yaml:"name,omitempty"`
	Broker    string  `yaml:"broker,omitempty"`
	Category  string  `yaml:"category,omitempty"`
	Notes     string  `yaml:"notes,omitempty"`
	// Extra keeps unknown keys so user annotations survive a round-trip.
	Extra map[string]any `yaml:",inline"`
}

func (fh fileHolding) toDomain() domain.Holding {
	return domain.Holding{
		ID:        fh.ID,
		Symbol:    fh.Symbol,
		Quantity:  decimal.NewFromFloat(fh.Quantity),
		CostBasis: decimal.NewFromFloat(fh.CostBasis),
		Currency:  fh.Currency,
		Name:      fh.Name,
		Broker:    fh.Broker,
		Category:  fh.Category,
		Notes:     fh.Notes,
		Extra:     fh.Extra,
	}
}

func holdingToFile(h domain.Holding) fileHolding {
	return fileHolding{
		ID:        h.ID,
		Symbol:    h.Symbol,
		Quantity:  h.Quantity.InexactFloat64(),
		CostBasis: h.CostBasis.InexactFloat64(),
		Currency:  h.Currency,
		Name:      h.Name,
		Broker:    h.Broker,
		Category:  h.Category,
		Notes:     h.Notes,
		Extra:     h.Extra,
	}
}

func (fp filePortfolio) toDomain() domain.Portfolio {
	holdings := make([]domain.Holding, len(fp.Holdings))
	for i, fh := range fp.Holdings {
		holdings[i] = fh.toDomain()
	}
	return domain.Portfolio{
		ID:       fp.ID,
		Name:     fp.Name,
		Notes:    fp.Notes,
		Holdings: holdings,
	}
}

func portfolioToFile(p domain.Portfolio) filePortfolio {
	holdings := make([]fileHolding, len(p.Holdings))
	for i, h := range p.Holdings {
		holdings[i] = holdingToFile(h)
	}
	return filePortfolio{
		ID:       p.ID,
		Name:     p.Name,
		Notes:    p.Notes,
		Holdings: holdings,
	}
}
