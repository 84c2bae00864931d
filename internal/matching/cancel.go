package matching

import (
	"fmt"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/ledger"
	"github.com/alanyoungcy/predictex/internal/orderbook"
)

// CancelResult is the effect of cancelling resting orders.
type CancelResult struct {
	Orders    []domain.Order // post-cancel state
	Cancelled int64          // total quantity taken off the book
	Ledger    ledger.Result
}

// Cancel takes one resting order off the book and releases its escrow. An
// order that is no longer on the book cancels nothing.
func (e *Engine) Cancel(book *orderbook.Book, orderID, opID string) (CancelResult, error) {
	o, ok := book.Get(orderID)
	if !ok {
		return CancelResult{}, nil
	}
	return e.cancel(book, []*domain.Order{o}, opID)
}

// CancelAll takes every resting order off the book in one ledger batch.
func (e *Engine) CancelAll(book *orderbook.Book, opID string) (CancelResult, error) {
	return e.cancel(book, book.Orders(), opID)
}

func (e *Engine) cancel(book *orderbook.Book, orders []*domain.Order, opID string) (CancelResult, error) {
	if len(orders) == 0 {
		return CancelResult{}, nil
	}
	res, err := e.ledger.Commit(opID, func(tx *ledger.Tx) error {
		for _, o := range orders {
			cp := *o
			if err := release(tx, &cp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, fmt.Errorf("matching: cancel: %w", err)
	}

	now := e.now()
	out := CancelResult{Ledger: res}
	for _, o := range orders {
		book.Remove(o.ID)
		out.Cancelled += o.Remaining()
		o.Held = 0
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = now
		o.CancelledAt = &now
		out.Orders = append(out.Orders, *o)
	}
	return out, nil
}
