// Package ledger holds every account balance and outcome position and
// applies changes to them as atomic, idempotent batches.
//
// A batch is built inside Commit against a staged copy of the accounts it
// touches. Nothing is visible to other callers until the build function
// returns nil, at which point all staged values are written back and the
// batch's entries are appended to the log.
package ledger

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Result is what one committed batch produced.
type Result struct {
	OpID      string
	Version   int64 // commit counter, stamped on every touched row
	Entries   []domain.LedgerEntry
	Balances  []domain.Balance  // post-commit values of touched accounts
	Positions []domain.Position // post-commit values of touched positions
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithOverdraft lets the named accounts hold a negative available balance.
func WithOverdraft(accounts ...string) Option {
	return func(l *Ledger) {
		for _, a := range accounts {
			l.overdraft[a] = true
		}
	}
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is safe for concurrent use. Its mutex is a leaf lock held only
// while one batch is validated and applied.
type Ledger struct {
	mu        sync.Mutex
	balances  map[string]domain.Balance
	positions map[domain.PositionKey]domain.Position
	applied   map[string]Result
	overdraft map[string]bool
	seq       int64
	version   int64
	now       func() time.Time
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		balances:  make(map[string]domain.Balance),
		positions: make(map[domain.PositionKey]domain.Position),
		applied:   make(map[string]Result),
		overdraft: make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Commit runs build against a staged transaction and applies it atomically
// under opID. A replayed opID returns the original result together with
// domain.ErrDuplicate; a build error discards every staged change.
func (l *Ledger) Commit(opID string, build func(tx *Tx) error) (Result, error) {
	if opID == "" {
		return Result{}, domain.Invalid("op_id", "must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.applied[opID]; ok {
		return prev, fmt.Errorf("ledger: op %s: %w", opID, domain.ErrDuplicate)
	}

	tx := &Tx{
		l:         l,
		opID:      opID,
		at:        l.now(),
		balances:  make(map[string]domain.Balance),
		positions: make(map[domain.PositionKey]domain.Position),
	}
	if err := build(tx); err != nil {
		return Result{}, err
	}
	return l.apply(tx), nil
}

func (l *Ledger) apply(tx *Tx) Result {
	l.version++
	res := Result{OpID: tx.opID, Version: l.version}
	for i := range tx.entries {
		l.seq++
		tx.entries[i].Seq = l.seq
	}
	res.Entries = tx.entries

	for _, acct := range sortedKeys(tx.balances) {
		b := tx.balances[acct]
		b.UpdatedAt = tx.at
		b.Version = l.version
		l.balances[acct] = b
		res.Balances = append(res.Balances, b)
	}
	keys := make([]domain.PositionKey, 0, len(tx.positions))
	for k := range tx.positions {
		keys = append(keys, k)
	}
	sortPositionKeys(keys)
	for _, k := range keys {
		p := tx.positions[k]
		p.UpdatedAt = tx.at
		p.Version = l.version
		l.positions[k] = p
		res.Positions = append(res.Positions, p)
	}
	l.applied[tx.opID] = res
	return res
}

// Applied reports whether opID has been committed.
func (l *Ledger) Applied(opID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[opID]
	return ok
}

// Balance returns an account's balance; unknown accounts are zero.
func (l *Ledger) Balance(account string) domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[account]
	if !ok {
		b.Account = account
	}
	return b
}

// Position returns one position; unknown positions are zero.
func (l *Ledger) Position(account, marketID string, o domain.Outcome) domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionLocked(domain.PositionKey{Account: account, MarketID: marketID, Outcome: o})
}

func (l *Ledger) positionLocked(k domain.PositionKey) domain.Position {
	p, ok := l.positions[k]
	if !ok {
		p = domain.Position{Account: k.Account, MarketID: k.MarketID, Outcome: k.Outcome}
	}
	return p
}

// AccountPositions lists an account's non-empty positions.
func (l *Ledger) AccountPositions(account string) []domain.Position {
	return l.filterPositions(func(p domain.Position) bool {
		return p.Account == account && (p.Shares != 0 || p.CostBasis != 0)
	})
}

// MarketPositions lists every non-empty position in a market, ordered by
// account then outcome.
func (l *Ledger) MarketPositions(marketID string) []domain.Position {
	return l.filterPositions(func(p domain.Position) bool {
		return p.MarketID == marketID && (p.Shares != 0 || p.CostBasis != 0)
	})
}

func (l *Ledger) filterPositions(keep func(domain.Position) bool) []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Position
	for _, p := range l.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return positionLess(out[i].Key(), out[j].Key()) })
	return out
}

// Supply returns the sum of every account's available and held currency.
// It changes only through deposits and withdrawals.
func (l *Ledger) Supply() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, b := range l.balances {
		total += b.Total()
	}
	return total
}

// SharesOutstanding returns the total shares of one outcome in a market.
func (l *Ledger) SharesOutstanding(marketID string, o domain.Outcome) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for k, p := range l.positions {
		if k.MarketID == marketID && k.Outcome == o {
			total += p.Shares
		}
	}
	return total
}

// Restore loads persisted state into an empty ledger. Operation ids restored
// this way replay as duplicates with an empty result.
func (l *Ledger) Restore(balances []domain.Balance, positions []domain.Position, opIDs []string, seq int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range balances {
		l.balances[b.Account] = b
		l.version = max(l.version, b.Version)
	}
	for _, p := range positions {
		l.positions[p.Key()] = p
		l.version = max(l.version, p.Version)
	}
	for _, id := range opIDs {
		l.applied[id] = Result{OpID: id}
	}
	if seq > l.seq {
		l.seq = seq
	}
}

// mulDiv computes a*b/c for non-negative operands without intermediate
// overflow.
func mulDiv(a, b, c int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	q, _ := bits.Div64(hi, lo, uint64(c))
	return int64(q)
}

func sortedKeys(m map[string]domain.Balance) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortPositionKeys(keys []domain.PositionKey) {
	sort.Slice(keys, func(i, j int) bool { return positionLess(keys[i], keys[j]) })
}

func positionLess(a, b domain.PositionKey) bool {
	if a.MarketID != b.MarketID {
		return a.MarketID < b.MarketID
	}
	if a.Account != b.Account {
		return a.Account < b.Account
	}
	return a.Outcome < b.Outcome
}
