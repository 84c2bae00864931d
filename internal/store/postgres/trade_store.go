package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. AMM trades are
// append-only; rows are written by the batch store.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const insertTradeSQL = `
	INSERT INTO amm_trades (
		id, market_id, user_id, outcome, side,
		gross, fee, shares, price_yes, price_no,
		operation_id, created_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12
	)
	ON CONFLICT (id) DO NOTHING`

func queueTrade(b *pgx.Batch, t domain.Trade) {
	b.Queue(insertTradeSQL,
		t.ID, t.MarketID, t.UserID, string(t.Outcome), string(t.Side),
		t.Gross, t.Fee, t.Shares, t.PriceYes, t.PriceNo,
		t.OperationID, t.CreatedAt,
	)
}

const tradeSelectCols = `id, market_id, user_id, outcome, side,
	gross, fee, shares, price_yes, price_no, operation_id, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var outcome, side string
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.UserID, &outcome, &side,
			&t.Gross, &t.Fee, &t.Shares, &t.PriceYes, &t.PriceNo,
			&t.OperationID, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Outcome = domain.Outcome(outcome)
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListByMarket returns AMM trades for a market, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(`SELECT `+tradeSelectCols+` FROM amm_trades WHERE market_id = $1`,
		[]any{marketID}, "created_at", "created_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const insertFillSQL = `
	INSERT INTO fills (
		id, market_id, kind, bid_order_id, ask_order_id, taker_order_id,
		bid_user_id, ask_user_id, price, quantity,
		bid_amount, ask_amount, bid_fee, ask_fee, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13, $14, $15
	)
	ON CONFLICT (id) DO NOTHING`

func queueFill(b *pgx.Batch, f domain.Fill) {
	b.Queue(insertFillSQL,
		f.ID, f.MarketID, string(f.Kind), f.BidOrderID, f.AskOrderID, f.TakerOrderID,
		f.BidUserID, f.AskUserID, f.Price, f.Quantity,
		f.BidAmount, f.AskAmount, f.BidFee, f.AskFee, f.CreatedAt,
	)
}

const fillSelectCols = `id, market_id, kind, bid_order_id, ask_order_id, taker_order_id,
	bid_user_id, ask_user_id, price, quantity,
	bid_amount, ask_amount, bid_fee, ask_fee, created_at`

// ListByMarket returns fills for a market, newest first.
func (s *FillStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	query, args := listQuery(`SELECT `+fillSelectCols+` FROM fills WHERE market_id = $1`,
		[]any{marketID}, "created_at", "created_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by market: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var kind string
		if err := rows.Scan(
			&f.ID, &f.MarketID, &kind, &f.BidOrderID, &f.AskOrderID, &f.TakerOrderID,
			&f.BidUserID, &f.AskUserID, &f.Price, &f.Quantity,
			&f.BidAmount, &f.AskAmount, &f.BidFee, &f.AskFee, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Kind = domain.FillKind(kind)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return fills, nil
}
