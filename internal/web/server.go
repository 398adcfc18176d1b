// Package web is the thin JSON facade exposing portfolio operations to
// external agents. All semantics live below it; handlers only decode,
// dispatch, and encode.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vadiminshakov/folio/internal"
	"github.com/vadiminshakov/folio/internal/domain"
	"github.com/vadiminshakov/folio/internal/services/pricer"
	"github.com/vadiminshakov/folio/internal/storage/portfolio"
	"go.uber.org/zap"
)

// Server exposes the App operations over HTTP.
type Server struct {
	addr   string
	app    *internal.App
	logger *zap.Logger
}

// NewServer creates a new facade server.
func NewServer(addr string, app *internal.App, logger *zap.Logger) *Server {
	return &Server{addr: addr, app: app, logger: logger}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("facade listening", zap.String("addr", s.addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /portfolios", s.handleListPortfolios)
	mux.HandleFunc("POST /portfolios", s.handleCreatePortfolio)
	mux.HandleFunc("PATCH /portfolios/{id}", s.handleUpdatePortfolio)
	mux.HandleFunc("DELETE /portfolios/{id}", s.handleDeletePortfolio)
	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.HandleFunc("GET /summary/{id}", s.handleSummary)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /prices/{symbol}", s.handleQuote)
	mux.HandleFunc("GET /symbols/search", s.handleSearchSymbols)
	mux.HandleFunc("POST /prices/refresh", s.handleRefreshPrices)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.HandleFunc("POST /portfolios/{id}/holdings", s.handleAddHolding)
	mux.HandleFunc("PATCH /portfolios/{id}/holdings/{key}", s.handleUpdateHolding)
	mux.HandleFunc("DELETE /portfolios/{id}/holdings/{key}", s.handleRemoveHolding)

	return s.withRequestID(mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		s.logger.Debug("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"portfolios": s.app.ListPortfolios()})
}

func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Notes string `json:"notes"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.app.CreatePortfolio(req.ID, req.Name, req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, portfolioView(p))
}

func (s *Server) handleUpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  *string `json:"name"`
		Notes *string `json:"notes"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.app.UpdatePortfolio(r.PathValue("id"), portfolio.PortfolioUpdate{Name: req.Name, Notes: req.Notes})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, portfolioView(p))
}

func (s *Server) handleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	p, err := s.app.DeletePortfolio(r.PathValue("id"), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, portfolioView(p))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.app.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	positions, err := s.app.Positions(r.Context(), query.Get("portfolio_id"), query.Get("symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]positionView, len(positions))
	for i, pos := range positions {
		views[i] = newPositionView(pos)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	allowStale := r.URL.Query().Get("fresh") != "true"
	snap, err := s.app.Quote(r.Context(), r.PathValue("symbol"), allowStale)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSearchSymbols(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit < 1 {
		limit = 5
	}
	matches, err := s.app.SearchSymbols(r.Context(), query.Get("q"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": matches})
}

func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	outcomes := s.app.RefreshPrices(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Reload(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"portfolios": s.app.ListPortfolios()})
}

func (s *Server) handleAddHolding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol      string  `json:"symbol"`
		SearchQuery string  `json:"search_query"`
		Quantity    float64 `json:"quantity"`
		CostBasis   float64 `json:"cost_basis"`
		Currency    string  `json:"currency"`
		Name        string  `json:"name"`
		Broker      string  `json:"broker"`
		Category    string  `json:"category"`
		Notes       string  `json:"notes"`
		HoldingID   string  `json:"holding_id"`
		SearchLimit int     `json:"search_limit"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.app.AddHolding(r.Context(), internal.AddHoldingParams{
		PortfolioID: r.PathValue("id"),
		Symbol:      req.Symbol,
		SearchQuery: req.SearchQuery,
		Quantity:    req.Quantity,
		CostBasis:   req.CostBasis,
		Currency:    req.Currency,
		Name:        req.Name,
		Broker:      req.Broker,
		Category:    req.Category,
		Notes:       req.Notes,
		HoldingID:   req.HoldingID,
		SearchLimit: req.SearchLimit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"holding":        holdingView(result.Holding),
		"search_matches": result.SearchMatches,
	})
}

func (s *Server) handleUpdateHolding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol    *string  `json:"symbol"`
		Quantity  *float64 `json:"quantity"`
		CostBasis *float64 `json:"cost_basis"`
		Currency  *string  `json:"currency"`
		Name      *string  `json:"name"`
		Broker    *string  `json:"broker"`
		Category  *string  `json:"category"`
		Notes     *string  `json:"notes"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	holding, err := s.app.UpdateHolding(r.Context(), r.PathValue("id"), r.PathValue("key"), portfolio.HoldingUpdate{
		Symbol:    req.Symbol,
		Quantity:  req.Quantity,
		CostBasis: req.CostBasis,
		Currency:  req.Currency,
		Name:      req.Name,
		Broker:    req.Broker,
		Category:  req.Category,
		Notes:     req.Notes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"holding": holdingView(holding)})
}

func (s *Server) handleRemoveHolding(w http.ResponseWriter, r *http.Request) {
	holding, err := s.app.RemoveHolding(r.PathValue("id"), r.PathValue("key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"holding": holdingView(holding)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr  *domain.ValidationError
		ambiguousErr   *domain.AmbiguousMatchError
		persistenceErr *domain.PersistenceError
	)

	switch {
	case errors.Is(err, pricer.ErrUnknownSymbol):
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.As(err, &validationErr):
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.As(err, &ambiguousErr):
		candidates := make([]holdingPayload, len(ambiguousErr.Candidates))
		for i, h := range ambiguousErr.Candidates {
			candidates[i] = holdingView(h)
		}
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":      ambiguousErr.Error(),
			"candidates": candidates,
		})
	case errors.As(err, &persistenceErr):
		s.logger.Error("persistence failure", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": persistenceErr.Error()})
	default:
		s.logger.Error("operation failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}
