package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func queueBalance(b *pgx.Batch, bal domain.Balance) {
	const query = `
		INSERT INTO balances (account, available, held, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account) DO UPDATE SET
			available  = EXCLUDED.available,
			held       = EXCLUDED.held,
			version    = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE balances.version < EXCLUDED.version`
	b.Queue(query, bal.Account, bal.Available, bal.Held, bal.Version, bal.UpdatedAt)
}

func queuePosition(b *pgx.Batch, p domain.Position) {
	const query = `
		INSERT INTO positions (account, market_id, outcome, shares, held, cost_basis, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account, market_id, outcome) DO UPDATE SET
			shares     = EXCLUDED.shares,
			held       = EXCLUDED.held,
			cost_basis = EXCLUDED.cost_basis,
			version    = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE positions.version < EXCLUDED.version`
	b.Queue(query, p.Account, p.MarketID, string(p.Outcome), p.Shares, p.Held, p.CostBasis, p.Version, p.UpdatedAt)
}

func queueEntry(b *pgx.Batch, e domain.LedgerEntry) {
	const query = `
		INSERT INTO ledger_entries (
			seq, op_id, account, market_id, outcome, reason,
			currency_delta, share_delta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (seq) DO NOTHING`
	b.Queue(query,
		e.Seq, e.OpID, e.Account, e.MarketID, string(e.Outcome), string(e.Reason),
		e.CurrencyDelta, e.ShareDelta, e.CreatedAt,
	)
}

// ListBalances returns every account balance.
func (s *LedgerStore) ListBalances(ctx context.Context) ([]domain.Balance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account, available, held, version, updated_at FROM balances ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.Account, &b.Available, &b.Held, &b.Version, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListPositions returns every stored position, including zeroed ones.
func (s *LedgerStore) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account, market_id, outcome, shares, held, cost_basis, version, updated_at
		 FROM positions ORDER BY market_id, account, outcome`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var outcome string
		if err := rows.Scan(&p.Account, &p.MarketID, &outcome, &p.Shares, &p.Held, &p.CostBasis, &p.Version, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Outcome = domain.Outcome(outcome)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListEntriesByMarket returns a market's ledger entries in sequence order.
func (s *LedgerStore) ListEntriesByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query, args := listQuery(
		`SELECT seq, op_id, account, market_id, outcome, reason,
			currency_delta, share_delta, created_at
		 FROM ledger_entries WHERE market_id = $1`,
		[]any{marketID}, "created_at", "seq ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var outcome, reason string
		if err := rows.Scan(
			&e.Seq, &e.OpID, &e.Account, &e.MarketID, &outcome, &reason,
			&e.CurrencyDelta, &e.ShareDelta, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		e.Outcome = domain.Outcome(outcome)
		e.Reason = domain.EntryReason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListOpIDs returns every operation id that produced ledger entries.
func (s *LedgerStore) ListOpIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT op_id FROM ledger_entries ORDER BY op_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list op ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan op id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MaxSeq returns the highest ledger entry sequence, or 0.
func (s *LedgerStore) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_entries`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: max seq: %w", err)
	}
	return seq, nil
}
