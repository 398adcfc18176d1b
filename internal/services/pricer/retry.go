package pricer

import (
	"context"

	"github.com/vadiminshakov/folio/internal/domain"
	"github.com/vadiminshakov/folio/pkg/retrier"
)

// RetryingPricer decorates a Pricer with bounded retry. Transient failures
// are retried with backoff; permanent ones surface immediately.
type RetryingPricer struct {
	inner Pricer
	r     *retrier.Retrier
}

// WithRetry wraps p so every GetQuote call retries transient failures up to
// maxRetries extra attempts.
func WithRetry(p Pricer, opts ...retrier.Option) *RetryingPricer {
	return &RetryingPricer{inner: p, r: retrier.New(opts...)}
}

func (p *RetryingPricer) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	return retrier.DoWithData(p.r, ctx, func(ctx context.Context) (domain.Quote, error) {
		quote, err := p.inner.GetQuote(ctx, symbol)
		if err != nil && !IsTransient(err) {
			return domain.Quote{}, retrier.Permanent(err)
		}
		return quote, err
	})
}
