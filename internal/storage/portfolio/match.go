package portfolio

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/folio/internal/domain"
)

// findHolding resolves key to a holding index inside p. Matching is ranked:
// exact id, then exact symbol, then substring of symbol or display name.
// A rank that yields several candidates is an ambiguous match, never a
// silent first pick.
func findHolding(p *domain.Portfolio, key string) (int, error) {
	for idx, h := range p.Holdings {
		if h.ID != "" && h.ID == key {
			return idx, nil
		}
	}

	upper := strings.ToUpper(key)
	var exact []int
	for idx, h := range p.Holdings {
		if strings.ToUpper(h.Symbol) == upper {
			exact = append(exact, idx)
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}
	if len(exact) > 1 {
		return 0, ambiguous(p, key, exact)
	}

	lower := strings.ToLower(key)
	var fuzzy []int
	for idx, h := range p.Holdings {
		if strings.Contains(strings.ToLower(h.Symbol), lower) ||
			(h.Name != "" && strings.Contains(strings.ToLower(h.Name), lower)) {
			fuzzy = append(fuzzy, idx)
		}
	}
	if len(fuzzy) == 1 {
		return fuzzy[0], nil
	}
	if len(fuzzy) > 1 {
		return 0, ambiguous(p, key, fuzzy)
	}

	return 0, domain.NewValidationError("holding", "holding %q not found in portfolio %q", key, p.ID)
}

func ambiguous(p *domain.Portfolio, key string, indices []int) error {
	candidates := make([]domain.Holding, len(indices))
	for i, idx := range indices {
		candidates[i] = p.Holdings[idx].Clone()
	}
	return &domain.AmbiguousMatchError{Key: key, Candidates: candidates}
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
