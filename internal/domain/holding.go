package domain

import (
	"github.com/shopspring/decimal"
)

// Holding is a single manually entered position inside a portfolio.
// Quantity and CostBasis are per-unit figures in the holding currency.
type Holding struct {
	ID        string
	Symbol    string
	Quantity  decimal.Decimal
	CostBasis decimal.Decimal
	Currency  string
	Name      string
	Broker    string
	Category  string
	Notes     string
	// Extra carries unrecognized fields from the holdings file so they
	// survive a load/save round-trip untouched.
	Extra map[string]any
}

// BookValue returns quantity * cost basis.
func (h Holding) BookValue() decimal.Decimal {
	return h.Quantity.Mul(h.CostBasis)
}

// Clone returns a deep copy so callers can hand holdings out of the store
// without aliasing the authoritative model.
func (h Holding) Clone() Holding {
	out := h
	if h.Extra != nil {
		out.Extra = make(map[string]any, len(h.Extra))
		for k, v := range h.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
