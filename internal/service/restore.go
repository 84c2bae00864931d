package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/registry"
)

// Restore rebuilds the in-memory state from the store: markets first, then
// balances and positions, then the resting orders of every book. It must
// run once, before the service takes traffic.
func (t *Trading) Restore(ctx context.Context) error {
	markets, err := t.stores.Markets.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("service: restore markets: %w", err)
	}
	for _, m := range markets {
		if _, err := t.registry.Add(m); err != nil {
			return fmt.Errorf("service: restore market %s: %w", m.ID, err)
		}
	}

	balances, err := t.stores.Ledger.ListBalances(ctx)
	if err != nil {
		return fmt.Errorf("service: restore balances: %w", err)
	}
	positions, err := t.stores.Ledger.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("service: restore positions: %w", err)
	}
	opIDs, err := t.stores.Ledger.ListOpIDs(ctx)
	if err != nil {
		return fmt.Errorf("service: restore op ids: %w", err)
	}
	seq, err := t.stores.Ledger.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("service: restore ledger seq: %w", err)
	}
	t.ledger.Restore(balances, positions, opIDs, seq)

	orders, err := t.stores.Orders.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("service: restore orders: %w", err)
	}
	for i := range orders {
		o := orders[i]
		e, err := t.registry.Get(o.MarketID)
		if err != nil {
			return fmt.Errorf("service: restore order %s: %w", o.ID, err)
		}
		err = e.Do(func(s *registry.State) error {
			if s.Book == nil || !s.Market.IsOpen() {
				return fmt.Errorf("market %s cannot hold orders: %w", o.MarketID, domain.ErrInvalidTransition)
			}
			return s.Book.Add(&o)
		})
		if err != nil {
			return fmt.Errorf("service: restore order %s: %w", o.ID, err)
		}
		t.registry.IndexOrder(registry.OrderRef{OrderID: o.ID, MarketID: o.MarketID, UserID: o.UserID})
	}

	t.logger.InfoContext(ctx, "service: state restored",
		slog.Int("markets", len(markets)),
		slog.Int("balances", len(balances)),
		slog.Int("positions", len(positions)),
		slog.Int("orders", len(orders)),
		slog.Int64("ledger_seq", seq),
	)
	return nil
}
