// Package registry owns market metadata and the per-market lock arena.
// Every mutation of a market's AMM state, book or status happens inside
// Entry.Do, which serializes work on that market only.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/orderbook"
)

// State is the mutable part of a market, valid only inside Entry.Do.
type State struct {
	Market *domain.Market
	Book   *orderbook.Book // nil for AMM markets
}

// Entry is one market and its lock.
type Entry struct {
	mu     sync.Mutex
	market domain.Market
	book   *orderbook.Book
}

// Do runs fn with the market locked.
func (e *Entry) Do(fn func(s *State) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&State{Market: &e.market, Book: e.book})
}

// Market returns a copy of the market's current metadata.
func (e *Entry) Market() domain.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market
}

// OrderRef locates an order without taking any market lock.
type OrderRef struct {
	OrderID  string
	MarketID string
	UserID   string
}

// Registry is safe for concurrent use. Its own mutex guards only the
// lookup maps, never market state.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Entry
	orders  map[string]OrderRef
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		markets: make(map[string]*Entry),
		orders:  make(map[string]OrderRef),
	}
}

// ValidateMarket checks the fields of a market being created.
func ValidateMarket(m domain.Market, now time.Time) error {
	if m.ID == "" {
		return domain.Invalid("id", "must not be empty")
	}
	if m.Question == "" {
		return domain.Invalid("question", "must not be empty")
	}
	switch m.Mode {
	case domain.MarketModeAMM:
		if !(m.Liquidity > 0) {
			return domain.Invalid("liquidity", "must be positive for AMM markets")
		}
		if m.QYes < 0 || m.QNo < 0 {
			return domain.Invalid("quantity", "initial quantities must not be negative")
		}
	case domain.MarketModeCLOB:
	default:
		return domain.Invalid("mode", "%q is not amm or clob", m.Mode)
	}
	if !m.CloseTime.IsZero() && !m.CloseTime.After(now) {
		return domain.Invalid("close_time", "must be in the future")
	}
	return nil
}

// Add registers a market. CLOB markets get an empty book.
func (r *Registry) Add(m domain.Market) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[m.ID]; ok {
		return nil, fmt.Errorf("registry: market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	e := &Entry{market: m}
	if m.Mode == domain.MarketModeCLOB {
		e.book = orderbook.New(m.ID)
		e.book.SetLastTrade(m.LastTradePrice)
	}
	r.markets[m.ID] = e
	return e, nil
}

// Get returns a market entry.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("registry: market %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// List returns a copy of every market, ordered by creation time.
func (r *Registry) List() []domain.Market {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.markets))
	for _, e := range r.markets {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.Market, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Market())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DueForClose lists open markets whose close time has passed.
func (r *Registry) DueForClose(now time.Time) []string {
	var ids []string
	for _, m := range r.List() {
		if m.IsOpen() && !m.CloseTime.IsZero() && !now.Before(m.CloseTime) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// IndexOrder records which market and user an order belongs to.
func (r *Registry) IndexOrder(ref OrderRef) {
	r.mu.Lock()
	r.orders[ref.OrderID] = ref
	r.mu.Unlock()
}

// LookupOrder finds an indexed order.
func (r *Registry) LookupOrder(orderID string) (OrderRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.orders[orderID]
	return ref, ok
}
