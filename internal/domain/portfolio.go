package domain

// DefaultPortfolioID is the implicit portfolio that legacy flat holdings
// files are promoted into.
const DefaultPortfolioID = "default"

// AggregatePortfolioID identifies the synthetic "all portfolios" scope in
// listings and summaries.
const AggregatePortfolioID = "all"

// Portfolio is a named, ordered collection of holdings.
type Portfolio struct {
	ID       string
	Name     string
	Notes    string
	Holdings []Holding
}

// Clone returns a deep copy of the portfolio.
func (p Portfolio) Clone() Portfolio {
	out := p
	out.Holdings = make([]Holding, len(p.Holdings))
	for i, h := range p.Holdings {
		out.Holdings[i] = h.Clone()
	}
	return out
}

// PortfolioInfo is the listing view of a portfolio.
type PortfolioInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Notes        string `json:"notes,omitempty"`
	HoldingCount int    `json:"holding_count"`
}
