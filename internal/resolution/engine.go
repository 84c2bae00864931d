// Package resolution moves markets through their lifecycle and settles
// positions when a market ends.
//
//	open -> trading_closed -> resolved | cancelled
//
// Closing cancels every resting order. Resolving pays one unit per winning
// share out of the market account. Cancelling refunds every position's
// cost basis. Each step commits one ledger batch under a fixed operation id
// so a repeated request is harmless.
package resolution

import (
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/ledger"
	"github.com/alanyoungcy/predictex/internal/matching"
	"github.com/alanyoungcy/predictex/internal/registry"
)

// Engine applies lifecycle transitions. Callers hold the market lock by
// running inside registry.Entry.Do.
type Engine struct {
	ledger   *ledger.Ledger
	matching *matching.Engine
	now      func() time.Time
}

// New creates a resolution engine.
func New(l *ledger.Ledger, m *matching.Engine, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{ledger: l, matching: m, now: now}
}

// Result is everything a transition changed.
type Result struct {
	Market    domain.Market
	Cancelled []domain.Order // resting orders cancelled by the close
	Ledger    []ledger.Result
	Settled   []Settlement // per position, for resolve and cancel
	Noop      bool         // the market was already in the requested state
}

// Settlement is what one position received at the end of a market.
type Settlement struct {
	Account string
	Outcome domain.Outcome
	Shares  int64
	Amount  int64
}

// Close stops trading and cancels all resting orders.
func (e *Engine) Close(s *registry.State) (Result, error) {
	m := s.Market
	if m.Status == domain.MarketStatusTradingClosed {
		return Result{Market: *m, Noop: true}, nil
	}
	if err := domain.CheckTransition(m.Status, domain.MarketStatusTradingClosed); err != nil {
		return Result{}, fmt.Errorf("resolution: close %s: %w", m.ID, err)
	}

	var res Result
	if s.Book != nil {
		c, err := e.matching.CancelAll(s.Book, "close:"+m.ID)
		if err != nil {
			return Result{}, fmt.Errorf("resolution: close %s: %w", m.ID, err)
		}
		res.Cancelled = c.Orders
		if len(c.Orders) > 0 {
			res.Ledger = append(res.Ledger, c.Ledger)
		}
	}
	now := e.now()
	m.Status = domain.MarketStatusTradingClosed
	m.ClosedAt = &now
	m.UpdatedAt = now
	res.Market = *m
	return res, nil
}

// Resolve pays the winning outcome. An open market is closed first.
func (e *Engine) Resolve(s *registry.State, winner domain.Outcome) (Result, error) {
	m := s.Market
	if m.Status == domain.MarketStatusResolved && m.Resolution == winner {
		return Result{Market: *m, Noop: true}, nil
	}
	if _, err := domain.ParseOutcome(string(winner)); err != nil {
		return Result{}, err
	}
	res, err := e.closeFirst(s, domain.MarketStatusResolved)
	if err != nil {
		return Result{}, err
	}

	positions := e.ledger.MarketPositions(m.ID)
	var owed int64
	for _, p := range positions {
		if p.Outcome == winner {
			owed += p.Shares
		}
	}
	lr, err := e.ledger.Commit("resolve:"+m.ID, func(tx *ledger.Tx) error {
		if err := cover(tx, m.ID, owed); err != nil {
			return err
		}
		res.Settled = nil
		for _, p := range positions {
			if p.Outcome != winner {
				shares, _ := tx.ZeroPosition(p.Account, m.ID, p.Outcome, domain.ReasonBurn)
				res.Settled = append(res.Settled, Settlement{Account: p.Account, Outcome: p.Outcome, Shares: shares})
				continue
			}
			shares, _ := tx.ZeroPosition(p.Account, m.ID, p.Outcome, domain.ReasonPayout)
			if err := tx.Transfer(m.Account(), p.Account, shares, m.ID, domain.ReasonPayout); err != nil {
				return err
			}
			res.Settled = append(res.Settled, Settlement{Account: p.Account, Outcome: p.Outcome, Shares: shares, Amount: shares})
		}
		return sweep(tx, m.ID)
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return Result{}, fmt.Errorf("resolution: resolve %s: %w", m.ID, err)
	}
	res.Ledger = append(res.Ledger, lr)

	now := e.now()
	m.Status = domain.MarketStatusResolved
	m.Resolution = winner
	m.SettledAt = &now
	m.UpdatedAt = now
	res.Market = *m
	return res, nil
}

// Cancel voids the market and refunds every position's cost basis. An open
// market is closed first.
func (e *Engine) Cancel(s *registry.State) (Result, error) {
	m := s.Market
	if m.Status == domain.MarketStatusCancelled {
		return Result{Market: *m, Noop: true}, nil
	}
	res, err := e.closeFirst(s, domain.MarketStatusCancelled)
	if err != nil {
		return Result{}, err
	}

	positions := e.ledger.MarketPositions(m.ID)
	var owed int64
	for _, p := range positions {
		owed += p.CostBasis
	}
	lr, err := e.ledger.Commit("cancel:"+m.ID, func(tx *ledger.Tx) error {
		if err := cover(tx, m.ID, owed); err != nil {
			return err
		}
		res.Settled = nil
		for _, p := range positions {
			shares, basis := tx.ZeroPosition(p.Account, m.ID, p.Outcome, domain.ReasonRefund)
			if err := tx.Transfer(m.Account(), p.Account, basis, m.ID, domain.ReasonRefund); err != nil {
				return err
			}
			res.Settled = append(res.Settled, Settlement{Account: p.Account, Outcome: p.Outcome, Shares: shares, Amount: basis})
		}
		return sweep(tx, m.ID)
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return Result{}, fmt.Errorf("resolution: cancel %s: %w", m.ID, err)
	}
	res.Ledger = append(res.Ledger, lr)

	now := e.now()
	m.Status = domain.MarketStatusCancelled
	m.SettledAt = &now
	m.UpdatedAt = now
	res.Market = *m
	return res, nil
}

func (e *Engine) closeFirst(s *registry.State, to domain.MarketStatus) (Result, error) {
	if s.Market.Status == domain.MarketStatusOpen {
		return e.Close(s)
	}
	if err := domain.CheckTransition(s.Market.Status, to); err != nil {
		return Result{}, fmt.Errorf("resolution: %s: %w", s.Market.ID, err)
	}
	return Result{}, nil
}

// cover tops the market account up from the platform when it holds less
// than owed.
func cover(tx *ledger.Tx, marketID string, owed int64) error {
	acct := domain.MarketAccount(marketID)
	if short := owed - tx.Balance(acct).Available; short > 0 {
		return tx.Transfer(domain.PlatformAccount, acct, short, marketID, domain.ReasonSubsidy)
	}
	return nil
}

// sweep moves whatever is left in the market account to the platform.
func sweep(tx *ledger.Tx, marketID string) error {
	acct := domain.MarketAccount(marketID)
	if left := tx.Balance(acct).Available; left > 0 {
		return tx.Transfer(acct, domain.PlatformAccount, left, marketID, domain.ReasonSweep)
	}
	return nil
}
