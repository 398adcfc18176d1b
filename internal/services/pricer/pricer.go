package pricer

import (
	"context"
	"errors"

	"github.com/vadiminshakov/folio/internal/domain"
)

// Pricer fetches the latest quote for a single symbol.
type Pricer interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// SymbolMatch is one search result from the quote source.
type SymbolMatch struct {
	Symbol    string `json:"symbol"`
	ShortName string `json:"short_name,omitempty"`
	LongName  string `json:"long_name,omitempty"`
	Exchange  string `json:"exchange,omitempty"`
	QuoteType string `json:"quote_type,omitempty"`
}

// SymbolSearcher looks up symbols by ticker code or company name.
type SymbolSearcher interface {
	SearchSymbols(ctx context.Context, query string, limit int) ([]SymbolMatch, error)
}

// Provider failure classes. Transient ones are worth retrying, permanent
// ones are not.
var (
	ErrRateLimited        = errors.New("provider rate limited")
	ErrServiceUnavailable = errors.New("provider unavailable")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrMalformedResponse  = errors.New("malformed provider response")
)

// IsTransient reports whether err belongs to a retryable failure class.
// Network-level errors with no classification count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnknownSymbol) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	return true
}
