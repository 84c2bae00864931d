package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// BatchStore implements domain.BatchWriter. Each journal batch is written in
// a single transaction so readers never observe half an operation.
type BatchStore struct {
	pool *pgxpool.Pool
}

// NewBatchStore creates a new BatchStore backed by the given connection pool.
func NewBatchStore(pool *pgxpool.Pool) *BatchStore {
	return &BatchStore{pool: pool}
}

// CommitBatch upserts every row the batch carries. Replaying a batch is
// harmless: fills, trades and entries are keyed, the rest are upserts.
func (s *BatchStore) CommitBatch(ctx context.Context, b domain.Batch) error {
	batch, err := buildBatch(b)
	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin batch %s: %w", b.OpID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: batch %s item %d: %w", b.OpID, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close batch %s: %w", b.OpID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit batch %s: %w", b.OpID, err)
	}
	return nil
}

// buildBatch queues statements parents first so foreign keys hold.
func buildBatch(b domain.Batch) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, m := range b.Markets {
		queueMarket(batch, m)
	}
	for _, o := range b.Orders {
		queueOrder(batch, o)
	}
	for _, f := range b.Fills {
		queueFill(batch, f)
	}
	for _, t := range b.Trades {
		queueTrade(batch, t)
	}
	for _, bal := range b.Balances {
		queueBalance(batch, bal)
	}
	for _, p := range b.Positions {
		queuePosition(batch, p)
	}
	for _, e := range b.Entries {
		queueEntry(batch, e)
	}
	for _, a := range b.Audit {
		if err := queueAudit(batch, a); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// NewStores wires every PostgreSQL store onto one pool.
func NewStores(pool *pgxpool.Pool) domain.Stores {
	return domain.Stores{
		Batches: NewBatchStore(pool),
		Markets: NewMarketStore(pool),
		Orders:  NewOrderStore(pool),
		Fills:   NewFillStore(pool),
		Trades:  NewTradeStore(pool),
		Ledger:  NewLedgerStore(pool),
		Audit:   NewAuditStore(pool),
	}
}
