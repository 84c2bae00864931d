package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const upsertOrderSQL = `
	INSERT INTO orders (
		id, market_id, user_id, intent, side,
		limit_price, book_price, quantity, filled,
		time_in_force, status, seq, held, idempotency_key,
		created_at, updated_at, cancelled_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9,
		$10, $11, $12, $13, $14,
		$15, $16, $17
	)
	ON CONFLICT (id) DO UPDATE SET
		filled       = EXCLUDED.filled,
		status       = EXCLUDED.status,
		held         = EXCLUDED.held,
		updated_at   = EXCLUDED.updated_at,
		cancelled_at = EXCLUDED.cancelled_at`

func queueOrder(b *pgx.Batch, o domain.Order) {
	b.Queue(upsertOrderSQL,
		o.ID, o.MarketID, o.UserID, string(o.Intent), string(o.Side),
		o.LimitPrice, o.BookPrice, o.Quantity, o.Filled,
		string(o.TimeInForce), string(o.Status), int64(o.Seq), o.Held, o.IdempotencyKey,
		o.CreatedAt, o.UpdatedAt, o.CancelledAt,
	)
}

// orderSelectCols lists the columns selected when reading orders.
const orderSelectCols = `id, market_id, user_id, intent, side,
	limit_price, book_price, quantity, filled,
	time_in_force, status, seq, held, idempotency_key,
	created_at, updated_at, cancelled_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
	var o domain.Order
	var intent, side, tif, status string
	var seq int64

	err := scanner.Scan(
		&o.ID, &o.MarketID, &o.UserID, &intent, &side,
		&o.LimitPrice, &o.BookPrice, &o.Quantity, &o.Filled,
		&tif, &status, &seq, &o.Held, &o.IdempotencyKey,
		&o.CreatedAt, &o.UpdatedAt, &o.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Intent = domain.Intent(intent)
	o.Side = domain.BookSide(side)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.Seq = uint64(seq)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListActive returns every resting order in book arrival order, grouped by
// market. Used to rebuild books on startup.
func (s *OrderStore) ListActive(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status IN ('open', 'partially_filled')
		 ORDER BY market_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active orders: %w", err)
	}
	return orders, nil
}

// ListByUser returns a user's orders newest first, optionally limited to
// one market.
func (s *OrderStore) ListByUser(ctx context.Context, userID, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE user_id = $1`
	args := []any{userID}
	if marketID != "" {
		query += " AND market_id = $2"
		args = append(args, marketID)
	}
	query, args = listQuery(query, args, "created_at", "created_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by user: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by user: %w", err)
	}
	return orders, nil
}
