package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/journal"
	"github.com/alanyoungcy/predictex/internal/ledger"
	"github.com/alanyoungcy/predictex/internal/lmsr"
	"github.com/alanyoungcy/predictex/internal/notify"
	"github.com/alanyoungcy/predictex/internal/registry"
	"github.com/alanyoungcy/predictex/internal/resolution"
)

// sweeperLease is the lock key held by the instance running the close
// sweeper.
const sweeperLease = "sweeper"

// CreateMarketRequest describes a new market. An empty ID is generated and
// a zero Liquidity uses the configured default for AMM markets.
type CreateMarketRequest struct {
	ID        string
	Question  string
	Mode      domain.MarketMode
	Liquidity float64
	CloseTime time.Time
}

// CreateMarket registers a market. AMM markets are funded from the platform
// account with the curve's maximum loss.
func (t *Trading) CreateMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	now := t.now()
	m := domain.Market{
		ID:        req.ID,
		Question:  req.Question,
		Mode:      req.Mode,
		Status:    domain.MarketStatusOpen,
		CloseTime: req.CloseTime,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m.ID == "" {
		m.ID = t.newID()
	}
	if m.Mode == domain.MarketModeAMM {
		m.Liquidity = req.Liquidity
		if m.Liquidity == 0 {
			m.Liquidity = t.cfg.DefaultLiquidity
		}
	}
	if err := registry.ValidateMarket(m, now); err != nil {
		return domain.Market{}, t.reject(ctx, "create_market", err)
	}
	if _, err := t.registry.Get(m.ID); err == nil {
		return domain.Market{}, t.reject(ctx, "create_market", fmt.Errorf("service: market %s: %w", m.ID, domain.ErrAlreadyExists))
	}

	var subsidy int64
	if m.Mode == domain.MarketModeAMM {
		subsidy = int64(math.Ceil(lmsr.FromMarket(m).MaxLoss() * float64(domain.MicrosPerUnit)))
	}
	opID := "create:" + m.ID
	lr, err := t.ledger.Commit(opID, func(tx *ledger.Tx) error {
		if subsidy == 0 {
			return nil
		}
		return tx.Transfer(domain.PlatformAccount, m.Account(), subsidy, m.ID, domain.ReasonSubsidy)
	})
	if errors.Is(err, domain.ErrDuplicate) {
		err = fmt.Errorf("service: market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Market{}, t.reject(ctx, "create_market", err)
	}

	b := domain.Batch{
		OpID:    opID,
		Markets: []domain.Market{m},
		Audit: []domain.AuditEntry{{
			Event: "market.created",
			Detail: map[string]any{
				"market_id": m.ID,
				"mode":      string(m.Mode),
				"liquidity": m.Liquidity,
				"subsidy":   subsidy,
			},
			CreatedAt: now,
		}},
		Events: []domain.Event{t.event(domain.EventMarketCreated, m.ID, m)},
	}
	addLedger(&b, lr)
	t.enqueue(b)

	if _, err := t.registry.Add(m); err != nil {
		return domain.Market{}, t.reject(ctx, "create_market", err)
	}
	t.logger.InfoContext(ctx, "service: market created",
		slog.String("market_id", m.ID),
		slog.String("mode", string(m.Mode)),
		slog.Int64("subsidy", subsidy),
	)
	return m, nil
}

// GetMarket returns a market's current state.
func (t *Trading) GetMarket(_ context.Context, marketID string) (domain.Market, error) {
	e, err := t.entry(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	return e.Market(), nil
}

// ListMarkets returns every market, optionally filtered by status, ordered
// by creation time.
func (t *Trading) ListMarkets(_ context.Context, status domain.MarketStatus) []domain.Market {
	all := t.registry.List()
	if status == "" {
		return all
	}
	out := all[:0]
	for _, m := range all {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

// PriceView is a market's current quote. Yes and No are set only when
// Priced; BestBid and BestAsk are ticks, 0 for an empty side.
type PriceView struct {
	MarketID  string
	Yes       float64
	No        float64
	Priced    bool
	BestBid   int64
	BestAsk   int64
	UpdatedAt time.Time
	Cached    bool
}

// Prices returns a market's outcome prices and, for CLOB markets, its best
// bid and ask. The read caches answer when they hold prices at least as
// new as the market; otherwise the quote is read from memory. A cached
// BBO can trail the live book until the journal's next flush.
func (t *Trading) Prices(ctx context.Context, marketID string) (PriceView, error) {
	e, err := t.entry(marketID)
	if err != nil {
		return PriceView{}, err
	}
	m := e.Market()
	if view, ok := t.cachedPrices(ctx, m); ok {
		return view, nil
	}

	view := PriceView{MarketID: m.ID, UpdatedAt: m.UpdatedAt}
	view.Yes, view.No, view.Priced = journal.MarketPrices(m)
	if m.Mode != domain.MarketModeCLOB {
		return view, nil
	}
	err = e.Do(func(s *registry.State) error {
		if s.Book != nil {
			view.BestBid, _ = s.Book.BestPrice(domain.SideBid)
			view.BestAsk, _ = s.Book.BestPrice(domain.SideAsk)
		}
		return nil
	})
	return view, err
}

func (t *Trading) cachedPrices(ctx context.Context, m domain.Market) (PriceView, bool) {
	if t.prices == nil {
		return PriceView{}, false
	}
	yes, no, ts, err := t.prices.GetPrices(ctx, m.ID)
	if err != nil {
		t.cacheMiss(ctx, m.ID, err)
		return PriceView{}, false
	}
	if ts.Before(m.UpdatedAt) {
		return PriceView{}, false
	}
	view := PriceView{MarketID: m.ID, Yes: yes, No: no, Priced: true, UpdatedAt: ts, Cached: true}
	if m.Mode != domain.MarketModeCLOB {
		return view, true
	}
	if t.books == nil {
		return PriceView{}, false
	}
	view.BestBid, view.BestAsk, err = t.books.GetBBO(ctx, m.ID)
	if err != nil {
		t.cacheMiss(ctx, m.ID, err)
		return PriceView{}, false
	}
	return view, true
}

func (t *Trading) cacheMiss(ctx context.Context, marketID string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	t.logger.WarnContext(ctx, "service: price cache read failed",
		slog.String("market_id", marketID),
		slog.String("error", err.Error()),
	)
}

// CloseMarket stops trading on an open market and cancels its resting
// orders.
func (t *Trading) CloseMarket(ctx context.Context, marketID string) (domain.Market, error) {
	return t.transition(ctx, marketID, "operator", domain.EventMarketClosed, t.resolution.Close)
}

// Resolve settles a market in favour of outcome.
func (t *Trading) Resolve(ctx context.Context, marketID string, outcome domain.Outcome) (domain.Market, error) {
	if _, err := domain.ParseOutcome(string(outcome)); err != nil {
		return domain.Market{}, t.reject(ctx, "resolve", err)
	}
	return t.transition(ctx, marketID, "operator", domain.EventMarketResolved, func(s *registry.State) (resolution.Result, error) {
		return t.resolution.Resolve(s, outcome)
	})
}

// CancelMarket voids a market and refunds every position's cost basis.
func (t *Trading) CancelMarket(ctx context.Context, marketID string) (domain.Market, error) {
	return t.transition(ctx, marketID, "operator", domain.EventMarketCancelled, t.resolution.Cancel)
}

// transition applies one lifecycle step under the market lock and journals
// what it changed. A step that finds the market already in the target
// state changes nothing.
func (t *Trading) transition(
	ctx context.Context,
	marketID, trigger string,
	typ domain.EventType,
	step func(s *registry.State) (resolution.Result, error),
) (domain.Market, error) {
	e, err := t.entry(marketID)
	if err != nil {
		return domain.Market{}, t.reject(ctx, string(typ), err)
	}

	var res resolution.Result
	err = e.Do(func(s *registry.State) error {
		r, err := step(s)
		if err != nil {
			return err
		}
		res = r
		if r.Noop {
			return nil
		}
		m := r.Market
		b := domain.Batch{
			OpID:    string(typ) + ":" + m.ID,
			Markets: []domain.Market{m},
			Orders:  r.Cancelled,
			Audit: []domain.AuditEntry{{
				Event: "market." + string(m.Status),
				Detail: map[string]any{
					"market_id":         m.ID,
					"trigger":           trigger,
					"orders_cancelled":  len(r.Cancelled),
					"positions_settled": len(r.Settled),
				},
				CreatedAt: t.now(),
			}},
		}
		for _, o := range r.Cancelled {
			b.Events = append(b.Events, t.event(domain.EventOrderCancelled, m.ID, o))
		}
		if s.Book != nil && len(r.Cancelled) > 0 {
			b.Events = append(b.Events, t.event(domain.EventBookUpdated, m.ID, s.Book.Snapshot(bookDepth)))
		}
		b.Events = append(b.Events, t.event(typ, m.ID, m))
		addLedger(&b, r.Ledger...)
		t.enqueue(b)
		return nil
	})
	if err != nil {
		return domain.Market{}, t.reject(ctx, string(typ), fmt.Errorf("service: %s %s: %w", typ, marketID, err))
	}
	if res.Noop {
		return res.Market, nil
	}

	m := res.Market
	t.logger.InfoContext(ctx, "service: market transitioned",
		slog.String("market_id", m.ID),
		slog.String("status", string(m.Status)),
		slog.String("trigger", trigger),
		slog.Int("orders_cancelled", len(res.Cancelled)),
		slog.Int("positions_settled", len(res.Settled)),
	)
	switch m.Status {
	case domain.MarketStatusResolved:
		t.metrics.MarketsSettled.With("status", string(m.Status)).Add(1)
		t.notifier.Go(notify.EventMarketResolved, "Market resolved",
			fmt.Sprintf("%s resolved %s, %d positions settled", m.ID, m.Resolution, len(res.Settled)))
	case domain.MarketStatusCancelled:
		t.metrics.MarketsSettled.With("status", string(m.Status)).Add(1)
		t.notifier.Go(notify.EventMarketCancelled, "Market cancelled",
			fmt.Sprintf("%s cancelled, %d positions refunded", m.ID, len(res.Settled)))
	}
	return m, nil
}

// SweepExpired closes every open market whose close time has passed and
// returns how many it closed.
func (t *Trading) SweepExpired(ctx context.Context) (int, error) {
	var (
		closed int
		errs   []error
	)
	for _, id := range t.registry.DueForClose(t.now()) {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		if _, err := t.transition(ctx, id, "sweeper", domain.EventMarketClosed, t.resolution.Close); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// RunSweeper calls SweepExpired every SweepInterval until ctx is done. With
// a LockManager configured only the instance holding the lease sweeps.
func (t *Trading) RunSweeper(ctx context.Context) error {
	interval := t.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.sweepOnce(ctx)
		}
	}
}

func (t *Trading) sweepOnce(ctx context.Context) {
	if t.locks != nil {
		unlock, err := t.locks.Acquire(ctx, sweeperLease, t.cfg.LeaseTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return
		}
		if err != nil {
			t.logger.WarnContext(ctx, "service: sweeper lease failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}
	n, err := t.SweepExpired(ctx)
	if err != nil && ctx.Err() == nil {
		t.logger.ErrorContext(ctx, "service: sweep failed", slog.String("error", err.Error()))
	}
	if n > 0 {
		t.logger.InfoContext(ctx, "service: expired markets closed", slog.Int("count", n))
	}
}
