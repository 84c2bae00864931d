// Package service is the trading core's public API. Trading ties the
// registry, ledger, AMM, matching and resolution engines together, keeps
// request idempotency, and hands every committed change to the journal.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/predictex/internal/amm"
	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/idempotency"
	"github.com/alanyoungcy/predictex/internal/ledger"
	"github.com/alanyoungcy/predictex/internal/lmsr"
	"github.com/alanyoungcy/predictex/internal/matching"
	"github.com/alanyoungcy/predictex/internal/metrics"
	"github.com/alanyoungcy/predictex/internal/notify"
	"github.com/alanyoungcy/predictex/internal/registry"
	"github.com/alanyoungcy/predictex/internal/resolution"
)

// bookDepth is the number of levels published with book updates.
const bookDepth = 20

// Journal receives committed batches. It must not block.
type Journal interface {
	Enqueue(b domain.Batch)
}

// Config holds the trading parameters.
type Config struct {
	AMMFeeBps        int64
	CLOBFeeBps       int64
	DefaultLiquidity float64
	Solver           lmsr.Solver
	IdempotencyTTL   time.Duration
	SweepInterval    time.Duration
	LeaseTTL         time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AMMFeeBps:        amm.DefaultFeeBps,
		CLOBFeeBps:       0,
		DefaultLiquidity: 100,
		Solver:           lmsr.DefaultSolver(),
		IdempotencyTTL:   10 * time.Minute,
		SweepInterval:    time.Second,
		LeaseTTL:         10 * time.Second,
	}
}

// Option customises a Trading instance.
type Option func(*Trading)

// WithClock overrides the time source of the service and its engines.
func WithClock(now func() time.Time) Option {
	return func(t *Trading) { t.now = now }
}

// WithIDs overrides id generation for orders, fills, trades and markets.
func WithIDs(newID func() string) Option {
	return func(t *Trading) { t.newID = newID }
}

// WithLocks enables the close sweeper lease.
func WithLocks(l domain.LockManager) Option {
	return func(t *Trading) { t.locks = l }
}

// WithCaches lets Prices answer from the read caches the journal keeps
// fresh. Either cache may be nil.
func WithCaches(prices domain.PriceCache, books domain.OrderbookCache) Option {
	return func(t *Trading) {
		t.prices = prices
		t.books = books
	}
}

// Trading implements the service API.
type Trading struct {
	cfg        Config
	registry   *registry.Registry
	ledger     *ledger.Ledger
	maker      *amm.Maker
	matching   *matching.Engine
	resolution *resolution.Engine
	responses  *idempotency.Cache
	funding    singleflight.Group // concurrent deposits/withdrawals by op id
	stores     domain.Stores
	journal    Journal
	locks      domain.LockManager
	prices     domain.PriceCache
	books      domain.OrderbookCache
	metrics    *metrics.Metrics
	notifier   *notify.Notifier
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewTrading wires a Trading service. stores serves read queries and
// Restore; journal receives every committed change.
func NewTrading(
	cfg Config,
	stores domain.Stores,
	journal Journal,
	m *metrics.Metrics,
	n *notify.Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Trading {
	if m == nil {
		m = metrics.NopMetrics()
	}
	if cfg.Solver.MaxIterations == 0 {
		cfg.Solver = lmsr.DefaultSolver()
	}
	if cfg.DefaultLiquidity <= 0 {
		cfg.DefaultLiquidity = DefaultConfig().DefaultLiquidity
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultConfig().IdempotencyTTL
	}
	t := &Trading{
		cfg:       cfg,
		registry:  registry.New(),
		maker:     amm.NewMaker(cfg.Solver, cfg.AMMFeeBps),
		responses: idempotency.New(cfg.IdempotencyTTL),
		stores:    stores,
		journal:   journal,
		metrics:   m,
		notifier:  n,
		logger:    logger.With(slog.String("component", "trading")),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(t)
	}
	t.ledger = ledger.New(ledger.WithOverdraft(domain.PlatformAccount), ledger.WithClock(t.now))
	t.matching = matching.New(t.ledger, cfg.CLOBFeeBps, matching.WithClock(t.now), matching.WithIDs(t.newID))
	t.resolution = resolution.New(t.ledger, t.matching, t.now)
	return t
}

// Ledger exposes the ledger for read-only inspection.
func (t *Trading) Ledger() *ledger.Ledger { return t.ledger }

// Responses exposes the idempotency cache so its cleanup loop can run.
func (t *Trading) Responses() *idempotency.Cache { return t.responses }

// opKey namespaces a caller's idempotency key. An empty key never
// deduplicates.
func (t *Trading) opKey(kind, user, key string) string {
	if key == "" {
		key = t.newID()
	}
	return kind + ":" + user + ":" + key
}

// cached returns a stored response for opID, or ErrDuplicate when the
// operation was applied but its response has expired. Callers hold the
// market lock.
func cached[T any](t *Trading, opID string) (T, bool, error) {
	var zero T
	if v, ok := t.responses.Get(opID); ok {
		if r, ok := v.(T); ok {
			return r, true, nil
		}
	}
	if t.ledger.Applied(opID) {
		return zero, false, fmt.Errorf("service: op %s: %w", opID, domain.ErrDuplicate)
	}
	return zero, false, nil
}

// entry looks up a market by id.
func (t *Trading) entry(marketID string) (*registry.Entry, error) {
	if marketID == "" {
		return nil, domain.Invalid("market_id", "must not be empty")
	}
	e, err := t.registry.Get(marketID)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func checkTradable(m *domain.Market, mode domain.MarketMode) error {
	if m.Mode != mode {
		return domain.Invalid("market_id", "market %s is a %s market", m.ID, m.Mode)
	}
	if !m.IsOpen() {
		return fmt.Errorf("service: market %s is %s: %w", m.ID, m.Status, domain.ErrMarketClosed)
	}
	return nil
}

// addLedger appends the rows a ledger commit changed.
func addLedger(b *domain.Batch, results ...ledger.Result) {
	for _, r := range results {
		b.Entries = append(b.Entries, r.Entries...)
		b.Balances = append(b.Balances, r.Balances...)
		b.Positions = append(b.Positions, r.Positions...)
	}
}

func (t *Trading) event(typ domain.EventType, marketID string, payload any) domain.Event {
	return domain.Event{Type: typ, MarketID: marketID, Payload: payload, Timestamp: t.now()}
}

func (t *Trading) enqueue(b domain.Batch) {
	if t.journal != nil {
		t.journal.Enqueue(b)
	}
}

// reject counts a failed request by its error class and passes err through.
func (t *Trading) reject(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	class := ErrorClass(err)
	t.metrics.Rejections.With("reason", class).Add(1)
	if errors.Is(err, domain.ErrNumericInstability) {
		t.logger.ErrorContext(ctx, "service: pricing failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		t.notifier.Go(notify.EventNumericInstability, "AMM solver failed", fmt.Sprintf("%s: %v", op, err))
	}
	return err
}

// ErrorClass names the domain error err wraps, for metrics and logs.
func ErrorClass(err error) string {
	for _, c := range []struct {
		err  error
		name string
	}{
		{domain.ErrValidation, "validation"},
		{domain.ErrMarketClosed, "market_closed"},
		{domain.ErrInsufficientBalance, "insufficient_balance"},
		{domain.ErrInsufficientShares, "insufficient_shares"},
		{domain.ErrOrderNotFound, "order_not_found"},
		{domain.ErrNotOwner, "not_owner"},
		{domain.ErrNumericInstability, "numeric_instability"},
		{domain.ErrDuplicate, "duplicate"},
		{domain.ErrNotFound, "not_found"},
		{domain.ErrAlreadyExists, "already_exists"},
		{domain.ErrInvalidTransition, "invalid_transition"},
	} {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return "internal"
}
