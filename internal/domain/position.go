package domain

import "time"

// Position is an account's holding of one outcome in one market.
type Position struct {
	Account   string
	MarketID  string
	Outcome   Outcome
	Shares    int64 // micro-shares, never negative
	Held      int64 // escrowed by resting sell orders, <= Shares
	CostBasis int64 // currency micros paid including fees
	Version   int64 // ledger commit that last changed it
	UpdatedAt time.Time
}

// Free returns the shares not escrowed by resting orders.
func (p Position) Free() int64 { return p.Shares - p.Held }

// PositionKey identifies a position.
type PositionKey struct {
	Account  string
	MarketID string
	Outcome  Outcome
}

// Key returns the position's identity.
func (p Position) Key() PositionKey {
	return PositionKey{Account: p.Account, MarketID: p.MarketID, Outcome: p.Outcome}
}

// Balance is an account's currency, split into spendable and escrowed.
type Balance struct {
	Account   string
	Available int64
	Held      int64
	Version   int64 // ledger commit that last changed it
	UpdatedAt time.Time
}

// Total returns available plus held.
func (b Balance) Total() int64 { return b.Available + b.Held }
