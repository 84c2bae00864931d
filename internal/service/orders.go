package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/matching"
	"github.com/alanyoungcy/predictex/internal/registry"
)

// PlaceOrderRequest submits a CLOB limit order. Price is in ticks of the
// intent's own outcome and Quantity in micro-shares.
type PlaceOrderRequest struct {
	UserID         string
	MarketID       string
	Intent         domain.Intent
	Price          int64
	Quantity       int64
	TimeInForce    domain.TimeInForce
	IdempotencyKey string
}

// PlaceOrderResult reports what happened to a placed order.
type PlaceOrderResult struct {
	OrderID        string
	Status         domain.OrderStatus
	FilledQuantity int64
	Remaining      int64
	FillsCount     int
}

// CancelResult reports a cancel request.
type CancelResult struct {
	OrderID           string
	CancelledQuantity int64
}

// BookLevel is one aggregated price level.
type BookLevel struct {
	Price    int64
	Quantity int64
}

// BookView is the public view of a CLOB book.
type BookView struct {
	MarketID       string
	Bids           []BookLevel
	Asks           []BookLevel
	LastTradePrice int64
	Seq            uint64
}

// PlaceOrder escrows, matches and possibly rests a limit order.
func (t *Trading) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if err := domain.CheckUserID(req.UserID); err != nil {
		return PlaceOrderResult{}, t.reject(ctx, "place_order", err)
	}
	if err := matching.Validate(domain.Order{
		Intent:      req.Intent,
		LimitPrice:  req.Price,
		Quantity:    req.Quantity,
		TimeInForce: req.TimeInForce,
	}); err != nil {
		return PlaceOrderResult{}, t.reject(ctx, "place_order", err)
	}
	e, err := t.entry(req.MarketID)
	if err != nil {
		return PlaceOrderResult{}, t.reject(ctx, "place_order", err)
	}
	opID := t.opKey("order", req.UserID, req.IdempotencyKey)

	var out PlaceOrderResult
	err = e.Do(func(s *registry.State) error {
		if r, ok, err := cached[PlaceOrderResult](t, opID); ok || err != nil {
			out = r
			return err
		}
		m := s.Market
		if err := checkTradable(m, domain.MarketModeCLOB); err != nil {
			return err
		}
		res, err := t.matching.Place(s.Book, domain.Order{
			ID:             t.newID(),
			UserID:         req.UserID,
			Intent:         req.Intent,
			LimitPrice:     req.Price,
			Quantity:       req.Quantity,
			TimeInForce:    req.TimeInForce,
			IdempotencyKey: req.IdempotencyKey,
		}, opID)
		if err != nil {
			return err
		}
		o := res.Order

		b := domain.Batch{
			OpID:   opID,
			Orders: append([]domain.Order{o}, res.Resting...),
			Fills:  res.Fills,
			Events: []domain.Event{t.event(domain.EventOrderPlaced, m.ID, o)},
		}
		if len(res.Fills) > 0 {
			m.LastTradePrice = s.Book.LastTrade()
			m.UpdatedAt = t.now()
			b.Markets = []domain.Market{*m}
		}
		for _, f := range res.Fills {
			b.Events = append(b.Events, t.event(domain.EventFill, m.ID, f))
			t.metrics.Fills.With("kind", string(f.Kind)).Add(1)
		}
		b.Events = append(b.Events, t.event(domain.EventBookUpdated, m.ID, s.Book.Snapshot(bookDepth)))
		addLedger(&b, res.Ledger)
		t.enqueue(b)

		t.registry.IndexOrder(registry.OrderRef{OrderID: o.ID, MarketID: m.ID, UserID: o.UserID})
		t.metrics.OrdersPlaced.With("intent", string(o.Intent)).Add(1)

		out = PlaceOrderResult{
			OrderID:        o.ID,
			Status:         o.Status,
			FilledQuantity: o.Filled,
			Remaining:      o.Remaining(),
			FillsCount:     len(res.Fills),
		}
		t.responses.Put(opID, out)
		return nil
	})
	if err != nil {
		return PlaceOrderResult{}, t.reject(ctx, "place_order", fmt.Errorf("service: place order on %s: %w", req.MarketID, err))
	}
	return out, nil
}

// CancelOrder takes the caller's order off the book. Cancelling an order
// that is already filled or cancelled returns a zero quantity.
func (t *Trading) CancelOrder(ctx context.Context, userID, orderID string) (CancelResult, error) {
	if err := domain.CheckUserID(userID); err != nil {
		return CancelResult{}, t.reject(ctx, "cancel_order", err)
	}
	ref, err := t.findOrder(ctx, orderID)
	if err != nil {
		return CancelResult{}, t.reject(ctx, "cancel_order", err)
	}
	if ref.UserID != userID {
		return CancelResult{}, t.reject(ctx, "cancel_order", fmt.Errorf("service: order %s: %w", orderID, domain.ErrNotOwner))
	}
	e, err := t.entry(ref.MarketID)
	if err != nil {
		return CancelResult{}, t.reject(ctx, "cancel_order", err)
	}

	out := CancelResult{OrderID: orderID}
	err = e.Do(func(s *registry.State) error {
		if s.Book == nil {
			return nil
		}
		if _, ok := s.Book.Get(orderID); !ok {
			return nil
		}
		res, err := t.matching.Cancel(s.Book, orderID, "cancel_order:"+orderID)
		if err != nil {
			return err
		}
		b := domain.Batch{OpID: "cancel_order:" + orderID, Orders: res.Orders}
		for _, o := range res.Orders {
			b.Events = append(b.Events, t.event(domain.EventOrderCancelled, o.MarketID, o))
		}
		b.Events = append(b.Events, t.event(domain.EventBookUpdated, s.Market.ID, s.Book.Snapshot(bookDepth)))
		addLedger(&b, res.Ledger)
		t.enqueue(b)
		out.CancelledQuantity = res.Cancelled
		return nil
	})
	if err != nil {
		return CancelResult{}, t.reject(ctx, "cancel_order", fmt.Errorf("service: cancel order %s: %w", orderID, err))
	}
	return out, nil
}

// findOrder locates an order through the in-memory index, falling back to
// the store for orders placed before a restart.
func (t *Trading) findOrder(ctx context.Context, orderID string) (registry.OrderRef, error) {
	if orderID == "" {
		return registry.OrderRef{}, domain.Invalid("order_id", "must not be empty")
	}
	if ref, ok := t.registry.LookupOrder(orderID); ok {
		return ref, nil
	}
	if t.stores.Orders != nil {
		o, err := t.stores.Orders.GetByID(ctx, orderID)
		switch {
		case err == nil:
			ref := registry.OrderRef{OrderID: o.ID, MarketID: o.MarketID, UserID: o.UserID}
			t.registry.IndexOrder(ref)
			return ref, nil
		case !errors.Is(err, domain.ErrNotFound):
			t.logger.WarnContext(ctx, "service: order lookup failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}
	return registry.OrderRef{}, fmt.Errorf("service: order %s: %w", orderID, domain.ErrOrderNotFound)
}

// GetBook returns the aggregated book of a CLOB market.
func (t *Trading) GetBook(_ context.Context, marketID string) (BookView, error) {
	e, err := t.entry(marketID)
	if err != nil {
		return BookView{}, err
	}
	var view BookView
	err = e.Do(func(s *registry.State) error {
		if s.Book == nil {
			return domain.Invalid("market_id", "market %s has no order book", marketID)
		}
		snap := s.Book.Snapshot(0)
		view = BookView{
			MarketID:       marketID,
			Bids:           levels(snap.Bids),
			Asks:           levels(snap.Asks),
			LastTradePrice: snap.LastTradePrice,
			Seq:            snap.Seq,
		}
		return nil
	})
	return view, err
}

func levels(in []domain.PriceLevel) []BookLevel {
	out := make([]BookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, BookLevel{Price: l.Price, Quantity: l.Quantity})
	}
	return out
}

// ListOpenOrders returns the user's resting orders, optionally in one
// market, read from the live books.
func (t *Trading) ListOpenOrders(_ context.Context, userID, marketID string) ([]domain.Order, error) {
	var ids []string
	if marketID != "" {
		ids = []string{marketID}
	} else {
		for _, m := range t.registry.List() {
			if m.Mode == domain.MarketModeCLOB && m.IsOpen() {
				ids = append(ids, m.ID)
			}
		}
	}

	var out []domain.Order
	for _, id := range ids {
		e, err := t.entry(id)
		if err != nil {
			return nil, err
		}
		err = e.Do(func(s *registry.State) error {
			if s.Book == nil {
				return nil
			}
			for _, o := range s.Book.Orders() {
				if o.UserID == userID {
					out = append(out, *o)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListOrders returns the user's order history from the store, newest
// first.
func (t *Trading) ListOrders(ctx context.Context, userID, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := t.stores.Orders.ListByUser(ctx, userID, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list orders: %w", err)
	}
	return orders, nil
}

// ListFills returns a market's persisted CLOB fills, newest first.
func (t *Trading) ListFills(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	fills, err := t.stores.Fills.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list fills: %w", err)
	}
	return fills, nil
}

// ListTrades returns a market's persisted AMM trades, newest first.
func (t *Trading) ListTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := t.stores.Trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list trades: %w", err)
	}
	return trades, nil
}
