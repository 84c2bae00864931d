package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarketSQL = `
	INSERT INTO markets (
		id, question, mode, status,
		q_yes, q_no, liquidity, last_trade_price, resolution,
		close_time, closed_at, settled_at, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8, $9,
		$10, $11, $12, $13, $14
	)
	ON CONFLICT (id) DO UPDATE SET
		status           = EXCLUDED.status,
		q_yes            = EXCLUDED.q_yes,
		q_no             = EXCLUDED.q_no,
		last_trade_price = EXCLUDED.last_trade_price,
		resolution       = EXCLUDED.resolution,
		closed_at        = EXCLUDED.closed_at,
		settled_at       = EXCLUDED.settled_at,
		updated_at       = EXCLUDED.updated_at`

func queueMarket(b *pgx.Batch, m domain.Market) {
	b.Queue(upsertMarketSQL,
		m.ID, m.Question, string(m.Mode), string(m.Status),
		m.QYes, m.QNo, m.Liquidity, m.LastTradePrice, string(m.Resolution),
		nullTime(m.CloseTime), m.ClosedAt, m.SettledAt, m.CreatedAt, m.UpdatedAt,
	)
}

const marketSelectCols = `id, question, mode, status,
	q_yes, q_no, liquidity, last_trade_price, resolution,
	close_time, closed_at, settled_at, created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var mode, status, resolution string
	var closeTime *time.Time
	err := row.Scan(
		&m.ID, &m.Question, &mode, &status,
		&m.QYes, &m.QNo, &m.Liquidity, &m.LastTradePrice, &resolution,
		&closeTime, &m.ClosedAt, &m.SettledAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Mode = domain.MarketMode(mode)
	m.Status = domain.MarketStatus(status)
	m.Resolution = domain.Outcome(resolution)
	if closeTime != nil {
		m.CloseTime = *closeTime
	}
	return m, nil
}

// GetByID retrieves a single market by its ID.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets oldest first with optional time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := listQuery(`SELECT `+marketSelectCols+` FROM markets WHERE 1=1`, nil,
		"created_at", "created_at ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}
