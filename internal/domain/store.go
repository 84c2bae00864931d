package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Batch is everything one committed operation changed. Batches are written
// in commit order and each one atomically.
type Batch struct {
	OpID      string
	Markets   []Market
	Orders    []Order
	Fills     []Fill
	Trades    []Trade
	Positions []Position
	Balances  []Balance
	Entries   []LedgerEntry
	Audit     []AuditEntry
	Events    []Event
}

// Empty reports whether the batch carries nothing to persist.
func (b Batch) Empty() bool {
	return len(b.Markets) == 0 && len(b.Orders) == 0 && len(b.Fills) == 0 &&
		len(b.Trades) == 0 && len(b.Positions) == 0 && len(b.Balances) == 0 &&
		len(b.Entries) == 0 && len(b.Audit) == 0 && len(b.Events) == 0
}

// BatchWriter persists journal batches.
type BatchWriter interface {
	CommitBatch(ctx context.Context, b Batch) error
}

// MarketStore reads persisted markets.
type MarketStore interface {
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
}

// OrderStore reads persisted orders.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (Order, error)
	ListActive(ctx context.Context) ([]Order, error)
	ListByUser(ctx context.Context, userID, marketID string, opts ListOpts) ([]Order, error)
}

// FillStore reads CLOB fills.
type FillStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Fill, error)
}

// TradeStore reads AMM trades.
type TradeStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
}

// LedgerStore reads balances, positions and the entry log.
type LedgerStore interface {
	ListBalances(ctx context.Context) ([]Balance, error)
	ListPositions(ctx context.Context) ([]Position, error)
	ListEntriesByMarket(ctx context.Context, marketID string, opts ListOpts) ([]LedgerEntry, error)
	ListOpIDs(ctx context.Context) ([]string, error)
	MaxSeq(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles the persistence interfaces a backend provides.
type Stores struct {
	Batches BatchWriter
	Markets MarketStore
	Orders  OrderStore
	Fills   FillStore
	Trades  TradeStore
	Ledger  LedgerStore
	Audit   AuditStore
}
