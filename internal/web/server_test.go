package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/folio/internal"
	"github.com/vadiminshakov/folio/internal/domain"
	"github.com/vadiminshakov/folio/internal/services/pricecache"
	"github.com/vadiminshakov/folio/internal/services/pricer"
	"github.com/vadiminshakov/folio/internal/services/scheduler"
	"github.com/vadiminshakov/folio/internal/storage/portfolio"
	"go.uber.org/zap"
)

type stubQuotes map[string]float64

func (q stubQuotes) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	price, ok := q[symbol]
	if !ok {
		return domain.Quote{}, pricer.ErrUnknownSymbol
	}
	return domain.Quote{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		Currency:  "USD",
		FetchedAt: time.Now().UTC(),
	}, nil
}

type stubSearcher struct {
	matches []pricer.SymbolMatch
}

func (s *stubSearcher) SearchSymbols(context.Context, string, int) ([]pricer.SymbolMatch, error) {
	return s.matches, nil
}

const webFixture = `base_currency: USD
portfolios:
  - id: main
    name: Main Portfolio
    holdings:
      - id: aapl
        symbol: AAPL
        quantity: 10
        cost_basis: 150
      - id: aapl-isa
        symbol: AAPL
        quantity: 2
        cost_basis: 160
  - id: retirement
    holdings: []
`

func newTestMux(t *testing.T) http.Handler {
	t.Helper()

	path := filepath.Join(t.TempDir(), "portfolio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(webFixture), 0o644))

	store, err := portfolio.Open(path, zap.NewNop())
	require.NoError(t, err)

	quotes := stubQuotes{"AAPL": 170}
	cache := pricecache.New(quotes, 300*time.Second, zap.NewNop())
	sched := scheduler.New(store, cache, 0, zap.NewNop())
	app := internal.NewAppWith(store, cache, sched, &stubSearcher{
		matches: []pricer.SymbolMatch{{Symbol: "NVDA", ShortName: "NVIDIA Corp"}},
	}, zap.NewNop())

	return NewServer(":0", app, zap.NewNop()).handler()
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Portfolios(t *testing.T) {
	t.Run("list includes the aggregate entry first", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodGet, "/portfolios", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

		body := decodeBody(t, rec)
		portfolios := body["portfolios"].([]any)
		require.Len(t, portfolios, 3)
		first := portfolios[0].(map[string]any)
		assert.Equal(t, "all", first["id"])
	})

	t.Run("create returns 201", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodPost, "/portfolios", map[string]string{"id": "crypto", "name": "Crypto"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "crypto", decodeBody(t, rec)["id"])
	})

	t.Run("create with a duplicate id is a 400 with the offending field", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodPost, "/portfolios", map[string]string{"id": "main"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "portfolio_id", decodeBody(t, rec)["field"])
	})

	t.Run("invalid json body is a 400", func(t *testing.T) {
		mux := newTestMux(t)

		req := httptest.NewRequest(http.MethodPost, "/portfolios", bytes.NewReader([]byte("{oops")))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete of a non-empty portfolio needs force", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodDelete, "/portfolios/main", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, mux, http.MethodDelete, "/portfolios/main?force=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServer_Holdings(t *testing.T) {
	t.Run("add holding returns 201 with the stored holding", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodPost, "/portfolios/retirement/holdings", map[string]any{
			"symbol":     "AAPL",
			"quantity":   3,
			"cost_basis": 160,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		holding := decodeBody(t, rec)["holding"].(map[string]any)
		assert.Equal(t, "aapl", holding["id"])
		assert.Equal(t, "AAPL", holding["symbol"])
	})

	t.Run("ambiguous key is a 409 listing the candidates", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodDelete, "/portfolios/main/holdings/aapl-x", nil)
		// Both holdings carry the AAPL symbol; "aapl-x" matches neither id.
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, mux, http.MethodDelete, "/portfolios/main/holdings/AAPL", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		candidates := decodeBody(t, rec)["candidates"].([]any)
		assert.Len(t, candidates, 2)
	})

	t.Run("update by id returns the new state", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodPatch, "/portfolios/main/holdings/aapl", map[string]any{
			"quantity": 25,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		holding := decodeBody(t, rec)["holding"].(map[string]any)
		assert.Equal(t, "25", holding["quantity"])
	})

	t.Run("negative quantity is a 400", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodPatch, "/portfolios/main/holdings/aapl", map[string]any{
			"quantity": -5,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "quantity", decodeBody(t, rec)["field"])
	})
}

func TestServer_ReadEndpoints(t *testing.T) {
	t.Run("summary of one portfolio", func(t *testing.T) {
		mux := newTestMux(t)

		doJSON(t, mux, http.MethodPost, "/prices/refresh", nil)

		rec := doJSON(t, mux, http.MethodGet, "/summary/main", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "main", body["portfolio_id"])
		assert.Equal(t, float64(2), body["holding_count"])
	})

	t.Run("summary without id covers everything", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodGet, "/summary", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "all", decodeBody(t, rec)["portfolio_id"])
	})

	t.Run("positions filtered by symbol", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodGet, "/positions?symbol=aapl", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		positions := decodeBody(t, rec)["positions"].([]any)
		assert.Len(t, positions, 2)
	})

	t.Run("search requires a query", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodGet, "/symbols/search", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, mux, http.MethodGet, "/symbols/search?q=nvidia", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		results := decodeBody(t, rec)["results"].([]any)
		assert.Len(t, results, 1)
	})

	t.Run("quote endpoint fetches on demand", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodGet, "/prices/aapl", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "AAPL", body["symbol"])
		assert.Equal(t, "fresh", body["freshness"])
	})

	t.Run("quote for an unknown symbol is a 404", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodGet, "/prices/NOPE", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("refresh reports per-symbol outcomes", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodPost, "/prices/refresh", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		outcomes := decodeBody(t, rec)["outcomes"].(map[string]any)
		require.Contains(t, outcomes, "AAPL")
		assert.Equal(t, true, outcomes["AAPL"].(map[string]any)["ok"])
	})

	t.Run("reload rereads the holdings file", func(t *testing.T) {
		mux := newTestMux(t)

		rec := doJSON(t, mux, http.MethodPost, "/reload", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, decodeBody(t, rec), "portfolios")
	})
}
