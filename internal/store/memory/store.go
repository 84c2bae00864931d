// Package memory is an in-process implementation of every store interface,
// used when no database is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Store keeps all persisted state in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	markets   map[string]domain.Market
	orders    map[string]domain.Order
	fills     []domain.Fill
	trades    []domain.Trade
	positions map[domain.PositionKey]domain.Position
	balances  map[string]domain.Balance
	entries   []domain.LedgerEntry
	opIDs     map[string]bool
	audit     []domain.AuditEntry
	batches   int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		markets:   make(map[string]domain.Market),
		orders:    make(map[string]domain.Order),
		positions: make(map[domain.PositionKey]domain.Position),
		balances:  make(map[string]domain.Balance),
		opIDs:     make(map[string]bool),
	}
}

// Stores exposes the Store through the domain interfaces.
func (s *Store) Stores() domain.Stores {
	return domain.Stores{
		Batches: s,
		Markets: marketStore{s},
		Orders:  orderStore{s},
		Fills:   fillStore{s},
		Trades:  tradeStore{s},
		Ledger:  ledgerStore{s},
		Audit:   auditStore{s},
	}
}

// CommitBatch applies a batch atomically. Balances and positions only move
// forward in ledger version, so batches from different markets may arrive
// in any order.
func (s *Store) CommitBatch(_ context.Context, b domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range b.Markets {
		s.markets[m.ID] = m
	}
	for _, o := range b.Orders {
		s.orders[o.ID] = o
	}
	s.fills = append(s.fills, b.Fills...)
	s.trades = append(s.trades, b.Trades...)
	for _, p := range b.Positions {
		if cur, ok := s.positions[p.Key()]; !ok || cur.Version < p.Version {
			s.positions[p.Key()] = p
		}
	}
	for _, bal := range b.Balances {
		if cur, ok := s.balances[bal.Account]; !ok || cur.Version < bal.Version {
			s.balances[bal.Account] = bal
		}
	}
	for _, e := range b.Entries {
		s.entries = append(s.entries, e)
		s.opIDs[e.OpID] = true
	}
	for _, a := range b.Audit {
		s.appendAudit(a.Event, a.Detail, a.CreatedAt)
	}
	s.batches++
	return nil
}

// Batches returns how many batches were committed.
func (s *Store) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

func (s *Store) appendAudit(event string, detail map[string]any, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: at,
	})
}

type marketStore struct{ s *Store }

func (m marketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	mk, ok := m.s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return mk, nil
}

func (m marketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	m.s.mu.RLock()
	out := make([]domain.Market, 0, len(m.s.markets))
	for _, mk := range m.s.markets {
		if inWindow(mk.CreatedAt, opts) {
			out = append(out, mk)
		}
	}
	m.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, opts), nil
}

type orderStore struct{ s *Store }

func (o orderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	ord, ok := o.s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("memory: order %s: %w", id, domain.ErrNotFound)
	}
	return ord, nil
}

func (o orderStore) ListActive(_ context.Context) ([]domain.Order, error) {
	o.s.mu.RLock()
	var out []domain.Order
	for _, ord := range o.s.orders {
		if ord.Active() {
			out = append(out, ord)
		}
	}
	o.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (o orderStore) ListByUser(_ context.Context, userID, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	o.s.mu.RLock()
	var out []domain.Order
	for _, ord := range o.s.orders {
		if ord.UserID == userID && (marketID == "" || ord.MarketID == marketID) && inWindow(ord.CreatedAt, opts) {
			out = append(out, ord)
		}
	}
	o.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

type fillStore struct{ s *Store }

func (f fillStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	f.s.mu.RLock()
	var out []domain.Fill
	for i := len(f.s.fills) - 1; i >= 0; i-- {
		if fl := f.s.fills[i]; fl.MarketID == marketID && inWindow(fl.CreatedAt, opts) {
			out = append(out, fl)
		}
	}
	f.s.mu.RUnlock()
	return page(out, opts), nil
}

type tradeStore struct{ s *Store }

func (t tradeStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	t.s.mu.RLock()
	var out []domain.Trade
	for i := len(t.s.trades) - 1; i >= 0; i-- {
		if tr := t.s.trades[i]; tr.MarketID == marketID && inWindow(tr.CreatedAt, opts) {
			out = append(out, tr)
		}
	}
	t.s.mu.RUnlock()
	return page(out, opts), nil
}

type ledgerStore struct{ s *Store }

func (l ledgerStore) ListBalances(_ context.Context) ([]domain.Balance, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	out := make([]domain.Balance, 0, len(l.s.balances))
	for _, b := range l.s.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

func (l ledgerStore) ListPositions(_ context.Context) ([]domain.Position, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.s.positions))
	for _, p := range l.s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (l ledgerStore) ListEntriesByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	l.s.mu.RLock()
	var out []domain.LedgerEntry
	for _, e := range l.s.entries {
		if e.MarketID == marketID && inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	l.s.mu.RUnlock()
	return page(out, opts), nil
}

func (l ledgerStore) ListOpIDs(_ context.Context) ([]string, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	out := make([]string, 0, len(l.s.opIDs))
	for id := range l.s.opIDs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (l ledgerStore) MaxSeq(_ context.Context) (int64, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var max int64
	for _, e := range l.s.entries {
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max, nil
}

type auditStore struct{ s *Store }

func (a auditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.appendAudit(event, detail, time.Time{})
	return nil
}

func (a auditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.RLock()
	var out []domain.AuditEntry
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		if e := a.s.audit[i]; inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	a.s.mu.RUnlock()
	return page(out, opts), nil
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
