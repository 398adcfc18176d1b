// Package portfolio owns the authoritative in-memory model of all
// portfolios and its write-through YAML persistence. Every accepted
// mutation is on disk before the caller sees success.
package portfolio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Rhymond/go-money"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/folio/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultBaseCurrency = "USD"

// Store holds the loaded portfolios. All mutations serialize through a
// single writer lock around the validate-apply-persist sequence; reads see
// a consistent snapshot.
type Store struct {
	path   string
	logger *zap.Logger

	mu           sync.RWMutex
	baseCurrency string
	list         []*domain.Portfolio
	index        map[string]*domain.Portfolio
}

// Open loads the holdings file at path. A missing file yields an empty
// store; a corrupt one is an error and the caller should abort startup.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload discards the in-memory model and re-parses the holdings file.
// On parse failure the previous model stays in place. The whole
// read-parse-install sequence holds the writer lock, so a mutation
// committing concurrently can never be reverted by a stale read of the
// file.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.baseCurrency = defaultBaseCurrency
			s.install(nil)
			return nil
		}
		return errors.Wrapf(err, "read holdings file %s", s.path)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return errors.Wrapf(err, "parse holdings file %s", s.path)
	}

	list, err := buildModel(doc)
	if err != nil {
		return errors.Wrapf(err, "invalid holdings file %s", s.path)
	}

	s.baseCurrency = doc.BaseCurrency
	if s.baseCurrency == "" {
		s.baseCurrency = defaultBaseCurrency
	}
	s.install(list)

	s.logger.Info("holdings file loaded",
		zap.String("path", s.path), zap.Int("portfolios", len(s.list)))

	return nil
}

// buildModel turns the parsed document into the in-memory model, promoting
// a legacy flat holdings list to the "default" portfolio.
func buildModel(doc fileDocument) ([]*domain.Portfolio, error) {
	var list []*domain.Portfolio

	switch {
	case len(doc.Portfolios) > 0:
		for _, fp := range doc.Portfolios {
			if fp.ID == "" {
				return nil, errors.New("portfolio entry without id")
			}
			p := fp.toDomain()
			list = append(list, &p)
		}
	default:
		p := domain.Portfolio{
			ID:   domain.DefaultPortfolioID,
			Name: "Default Portfolio",
		}
		for _, fh := range doc.Holdings {
			p.Holdings = append(p.Holdings, fh.toDomain())
		}
		list = append(list, &p)
	}

	seen := make(map[string]struct{}, len(list))
	for _, p := range list {
		if _, dup := seen[p.ID]; dup {
			return nil, errors.Errorf("duplicate portfolio id %q", p.ID)
		}
		seen[p.ID] = struct{}{}

		holdingIDs := make(map[string]struct{}, len(p.Holdings))
		for _, h := range p.Holdings {
			if h.ID == "" {
				continue
			}
			if _, dup := holdingIDs[h.ID]; dup {
				return nil, errors.Errorf("duplicate holding id %q in portfolio %q", h.ID, p.ID)
			}
			holdingIDs[h.ID] = struct{}{}
		}
	}

	return list, nil
}

// install replaces the model. Caller holds the write lock.
func (s *Store) install(list []*domain.Portfolio) {
	s.list = list
	s.index = make(map[string]*domain.Portfolio, len(list))
	for _, p := range list {
		s.index[p.ID] = p
	}
}

// persist writes the whole model to disk atomically via temp file. Caller
// holds the write lock.
func (s *Store) persist(list []*domain.Portfolio) error {
	doc := fileDocument{BaseCurrency: s.baseCurrency}
	for _, p := range list {
		doc.Portfolios = append(doc.Portfolios, portfolioToFile(*p))
	}

	payload, err := yaml.Marshal(doc)
	if err != nil {
		return &domain.PersistenceError{Path: s.path, Err: err}
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &domain.PersistenceError{Path: s.path, Err: err}
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return &domain.PersistenceError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &domain.PersistenceError{Path: s.path, Err: err}
	}

	return nil
}

// commit persists the mutated copy and swaps it in only on success, so a
// failed write never leaves the in-memory model ahead of the file. Caller
// holds the write lock.
func (s *Store) commit(list []*domain.Portfolio) error {
	if err := s.persist(list); err != nil {
		return err
	}
	s.install(list)
	return nil
}

// cloneList deep-copies the model for mutation. Caller holds a lock.
func (s *Store) cloneList() []*domain.Portfolio {
	out := make([]*domain.Portfolio, len(s.list))
	for i, p := range s.list {
		clone := p.Clone()
		out[i] = &clone
	}
	return out
}

// BaseCurrency returns the reporting currency of the holdings file.
func (s *Store) BaseCurrency() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCurrency
}

// ListPortfolios returns listing metadata in file order.
func (s *Store) ListPortfolios() []domain.PortfolioInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]domain.PortfolioInfo, 0, len(s.list))
	for _, p := range s.list {
		infos = append(infos, domain.PortfolioInfo{
			ID:           p.ID,
			Name:         p.Name,
			Notes:        p.Notes,
			HoldingCount: len(p.Holdings),
		})
	}
	return infos
}

// Portfolio returns a copy of one portfolio.
func (s *Store) Portfolio(id string) (domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.index[id]
	if !ok {
		return domain.Portfolio{}, domain.NewValidationError("portfolio_id", "portfolio %q does not exist", id)
	}
	return p.Clone(), nil
}

// Portfolios returns copies of all portfolios in file order.
func (s *Store) Portfolios() []domain.Portfolio {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Portfolio, len(s.list))
	for i, p := range s.list {
		out[i] = p.Clone()
	}
	return out
}

// Symbols returns the sorted distinct set of symbols referenced by any
// holding across all portfolios.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, p := range s.list {
		for _, h := range p.Holdings {
			set[strings.ToUpper(h.Symbol)] = struct{}{}
		}
	}

	symbols := make([]string, 0, len(set))
	for symbol := range set {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// CreatePortfolio adds an empty portfolio.
func (s *Store) CreatePortfolio(id, name, notes string) (domain.Portfolio, error) {
	if id == "" {
		return domain.Portfolio{}, domain.NewValidationError("portfolio_id", "must not be empty")
	}
	if id == domain.AggregatePortfolioID {
		return domain.Portfolio{}, domain.NewValidationError("portfolio_id", "%q is reserved", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[id]; exists {
		return domain.Portfolio{}, domain.NewValidationError("portfolio_id", "portfolio %q already exists", id)
	}

	list := s.cloneList()
	p := &domain.Portfolio{ID: id, Name: name, Notes: notes}
	list = append(list, p)

	if err := s.commit(list); err != nil {
		return domain.Portfolio{}, err
	}
	return p.Clone(), nil
}

// PortfolioUpdate carries optional new values for portfolio metadata.
type PortfolioUpdate struct {
	Name  *string
	Notes *string
}

// UpdatePortfolio changes portfolio metadata.
func (s *Store) UpdatePortfolio(id string, update PortfolioUpdate) (domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.cloneList()
	p := findPortfolio(list, id)
	if p == nil {
		return domain.Portfolio{}, domain.NewValidationError("portfolio_id", "portfolio %q does not exist", id)
	}

	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Notes != nil {
		p.Notes = *update.Notes
	}

	if err := s.commit(list); err != nil {
		return domain.Portfolio{}, err
	}
	return p.Clone(), nil
}

// DeletePortfolio removes a portfolio. A portfolio that still has holdings
// requires force; the last remaining portfolio cannot be deleted.
func (s *Store) DeletePortfolio(id string, force bool) (domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index[id]
	if !ok {
		return domain.Portfolio{}, domain.NewValidationError("portfolio_id", "portfolio %q does not exist", id)
	}
	if len(s.list) <= 1 {
		return domain.Portfolio{}, domain.NewValidationError("portfolio_id", "cannot delete the last portfolio")
	}
	if len(p.Holdings) > 0 && !force {
		return domain.Portfolio{}, domain.NewValidationError("force", "portfolio %q is not empty; set force to delete anyway", id)
	}

	deleted := p.Clone()

	list := make([]*domain.Portfolio, 0, len(s.list)-1)
	for _, existing := range s.cloneList() {
		if existing.ID != id {
			list = append(list, existing)
		}
	}

	if err := s.commit(list); err != nil {
		return domain.Portfolio{}, err
	}
	return deleted, nil
}

// AddHolding validates and appends a holding. An empty holding id gets a
// generated one derived from the symbol.
func (s *Store) AddHolding(portfolioID string, h domain.Holding) (domain.Holding, error) {
	if err := validateHolding(h); err != nil {
		return domain.Holding{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.cloneList()
	p := findPortfolio(list, portfolioID)
	if p == nil {
		return domain.Holding{}, domain.NewValidationError("portfolio_id", "portfolio %q does not exist", portfolioID)
	}

	if h.ID == "" {
		h.ID = generateHoldingID(p, h.Symbol)
	} else {
		for _, existing := range p.Holdings {
			if existing.ID == h.ID {
				return domain.Holding{}, domain.NewValidationError("holding_id", "holding id %q already exists in portfolio %q", h.ID, portfolioID)
			}
		}
	}

	p.Holdings = append(p.Holdings, h.Clone())

	if err := s.commit(list); err != nil {
		return domain.Holding{}, err
	}
	return h.Clone(), nil
}

// RemoveHolding deletes a holding found by id, symbol, or fuzzy name match.
func (s *Store) RemoveHolding(portfolioID, key string) (domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.cloneList()
	p := findPortfolio(list, portfolioID)
	if p == nil {
		return domain.Holding{}, domain.NewValidationError("portfolio_id", "portfolio %q does not exist", portfolioID)
	}

	idx, err := findHolding(p, key)
	if err != nil {
		return domain.Holding{}, err
	}

	removed := p.Holdings[idx].Clone()
	p.Holdings = append(p.Holdings[:idx], p.Holdings[idx+1:]...)

	if err := s.commit(list); err != nil {
		return domain.Holding{}, err
	}
	return removed, nil
}

// HoldingUpdate carries optional new values for a holding. Nil fields keep
// their current value.
type HoldingUpdate struct {
	Symbol    *string
	Quantity  *float64
	CostBasis *float64
	Currency  *string
	Name      *string
	Broker    *string
	Category  *string
	Notes     *string
}

// UpdateHolding changes fields of a holding found by id, symbol, or fuzzy
// name match.
func (s *Store) UpdateHolding(portfolioID, key string, update HoldingUpdate) (domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.cloneList()
	p := findPortfolio(list, portfolioID)
	if p == nil {
		return domain.Holding{}, domain.NewValidationError("portfolio_id", "portfolio %q does not exist", portfolioID)
	}

	idx, err := findHolding(p, key)
	if err != nil {
		return domain.Holding{}, err
	}

	h := &p.Holdings[idx]
	if update.Symbol != nil {
		h.Symbol = *update.Symbol
	}
	if update.Quantity != nil {
		h.Quantity = decimalFromFloat(*update.Quantity)
	}
	if update.CostBasis != nil {
		h.CostBasis = decimalFromFloat(*update.CostBasis)
	}
	if update.Currency != nil {
		h.Currency = *update.Currency
	}
	if update.Name != nil {
		h.Name = *update.Name
	}
	if update.Broker != nil {
		h.Broker = *update.Broker
	}
	if update.Category != nil {
		h.Category = *update.Category
	}
	if update.Notes != nil {
		h.Notes = *update.Notes
	}

	if err := validateHolding(*h); err != nil {
		return domain.Holding{}, err
	}

	if err := s.commit(list); err != nil {
		return domain.Holding{}, err
	}
	return h.Clone(), nil
}

func validateHolding(h domain.Holding) error {
	if strings.TrimSpace(h.Symbol) == "" {
		return domain.NewValidationError("symbol", "must not be empty")
	}
	if h.Quantity.IsNegative() {
		return domain.NewValidationError("quantity", "must not be negative, got %s", h.Quantity)
	}
	if h.CostBasis.IsNegative() {
		return domain.NewValidationError("cost_basis", "must not be negative, got %s", h.CostBasis)
	}
	if h.Currency != "" && money.GetCurrency(strings.ToUpper(h.Currency)) == nil {
		return domain.NewValidationError("currency", "unknown currency code %q", h.Currency)
	}
	return nil
}

func findPortfolio(list []*domain.Portfolio, id string) *domain.Portfolio {
	for _, p := range list {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// generateHoldingID derives an id from the symbol, suffixing on collision.
func generateHoldingID(p *domain.Portfolio, symbol string) string {
	base := strings.ReplaceAll(strings.ToLower(symbol), ".", "-")
	taken := make(map[string]struct{}, len(p.Holdings))
	for _, h := range p.Holdings {
		if h.ID != "" {
			taken[h.ID] = struct{}{}
		}
	}

	candidate := base
	for suffix := 1; ; suffix++ {
		if candidate != "" {
			if _, exists := taken[candidate]; !exists {
				return candidate
			}
		}
		candidate = fmt.Sprintf("%s-%d", base, suffix)
	}
}
