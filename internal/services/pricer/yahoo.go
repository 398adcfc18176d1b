package pricer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/folio/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://query2.finance.yahoo.com"
	requestTimeout = 10 * time.Second

	// Yahoo rejects requests without a browser-looking user agent.
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// YahooPricer fetches quotes from the Yahoo Finance chart API. It also
// implements SymbolSearcher against the Yahoo search endpoint.
type YahooPricer struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewYahooPricer creates a Yahoo quote source. proxyURL is optional; when
// set, all requests go through it.
func NewYahooPricer(logger *zap.Logger, proxyURL string) (*YahooPricer, error) {
	transport := http.DefaultTransport
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid proxy url %q", proxyURL)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}

	return &YahooPricer{
		client:  &http.Client{Timeout: requestTimeout, Transport: transport},
		baseURL: defaultBaseURL,
		logger:  logger,
	}, nil
}

// NormalizeSymbol canonicalizes a ticker the way the quote source expects:
// upper case, and Hong Kong tickers with their zero padding dropped.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, ".HK") && len(s) > 5 {
		trimmed := strings.TrimLeft(strings.TrimSuffix(s, ".HK"), "0")
		if trimmed != "" {
			s = trimmed + ".HK"
		}
	}
	return s
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"chart"`
}

func (p *YahooPricer) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	normalized := NormalizeSymbol(symbol)
	endpoint := p.baseURL + "/v8/finance/chart/" + url.PathEscape(normalized) + "?interval=1d&range=1d"

	body, err := p.fetch(ctx, endpoint)
	if err != nil {
		return domain.Quote{}, errors.Wrapf(err, "fetch quote for %s", normalized)
	}

	var payload chartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Quote{}, errors.Wrapf(ErrMalformedResponse, "decode chart payload for %s: %v", normalized, err)
	}
	if len(payload.Chart.Result) == 0 {
		return domain.Quote{}, errors.Wrapf(ErrUnknownSymbol, "no chart data for %s", normalized)
	}

	meta := payload.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return domain.Quote{}, errors.Wrapf(ErrMalformedResponse, "no market price for %s", normalized)
	}

	return domain.Quote{
		Symbol:    normalized,
		Price:     decimal.NewFromFloat(meta.RegularMarketPrice),
		Currency:  meta.Currency,
		FetchedAt: time.Now().UTC(),
	}, nil
}

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		Exchange  string `json:"exchange"`
		ExchDisp  string `json:"exchDisp"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

func (p *YahooPricer) SearchSymbols(ctx context.Context, query string, limit int) ([]SymbolMatch, error) {
	if limit < 1 {
		limit = 1
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("quotesCount", strconv.Itoa(limit))
	params.Set("newsCount", "0")
	endpoint := p.baseURL + "/v1/finance/search?" + params.Encode()

	body, err := p.fetch(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "search symbols for %q", query)
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrapf(ErrMalformedResponse, "decode search payload: %v", err)
	}

	matches := make([]SymbolMatch, 0, len(payload.Quotes))
	for _, q := range payload.Quotes {
		if q.Symbol == "" {
			continue
		}
		exchange := q.Exchange
		if exchange == "" {
			exchange = q.ExchDisp
		}
		matches = append(matches, SymbolMatch{
			Symbol:    q.Symbol,
			ShortName: q.ShortName,
			LongName:  q.LongName,
			Exchange:  exchange,
			QuoteType: q.QuoteType,
		})
	}

	p.logger.Debug("symbol search", zap.String("query", query), zap.Int("results", len(matches)))

	return matches, nil
}

func (p *YahooPricer) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrServiceUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrUnknownSymbol
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(ErrServiceUnavailable, "status %d", resp.StatusCode)
	default:
		return nil, errors.Wrapf(ErrMalformedResponse, "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(ErrServiceUnavailable, err.Error())
	}
	return body, nil
}
