package ledger

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Tx stages the primitives of one batch. It is only valid inside the build
// function passed to Ledger.Commit.
type Tx struct {
	l         *Ledger
	opID      string
	at        time.Time
	balances  map[string]domain.Balance
	positions map[domain.PositionKey]domain.Position
	entries   []domain.LedgerEntry
}

// OpID returns the operation id the batch commits under.
func (tx *Tx) OpID() string { return tx.opID }

// Balance returns the staged balance of account.
func (tx *Tx) Balance(account string) domain.Balance {
	if b, ok := tx.balances[account]; ok {
		return b
	}
	b, ok := tx.l.balances[account]
	if !ok {
		b.Account = account
	}
	return b
}

// Position returns the staged position.
func (tx *Tx) Position(account, marketID string, o domain.Outcome) domain.Position {
	k := domain.PositionKey{Account: account, MarketID: marketID, Outcome: o}
	if p, ok := tx.positions[k]; ok {
		return p
	}
	return tx.l.positionLocked(k)
}

func (tx *Tx) putBalance(b domain.Balance) { tx.balances[b.Account] = b }

func (tx *Tx) putPosition(p domain.Position) { tx.positions[p.Key()] = p }

func (tx *Tx) entry(e domain.LedgerEntry) {
	e.OpID = tx.opID
	e.CreatedAt = tx.at
	tx.entries = append(tx.entries, e)
}

// Deposit credits currency from outside the system.
func (tx *Tx) Deposit(account string, amount int64) error {
	if err := positive("amount", amount); err != nil {
		return err
	}
	b := tx.Balance(account)
	b.Available += amount
	tx.putBalance(b)
	tx.entry(domain.LedgerEntry{Account: account, Reason: domain.ReasonDeposit, CurrencyDelta: amount})
	return nil
}

// Withdraw removes available currency from the system.
func (tx *Tx) Withdraw(account string, amount int64) error {
	if err := positive("amount", amount); err != nil {
		return err
	}
	b := tx.Balance(account)
	if b.Available < amount {
		return insufficientBalance(account, amount, b.Available)
	}
	b.Available -= amount
	tx.putBalance(b)
	tx.entry(domain.LedgerEntry{Account: account, Reason: domain.ReasonWithdrawal, CurrencyDelta: -amount})
	return nil
}

// Transfer moves available currency between accounts. Zero is a no-op.
func (tx *Tx) Transfer(from, to string, amount int64, marketID string, reason domain.EntryReason) error {
	return tx.transfer(from, to, amount, marketID, reason, false)
}

// TransferHeld moves currency out of from's held balance.
func (tx *Tx) TransferHeld(from, to string, amount int64, marketID string, reason domain.EntryReason) error {
	return tx.transfer(from, to, amount, marketID, reason, true)
}

func (tx *Tx) transfer(from, to string, amount int64, marketID string, reason domain.EntryReason, held bool) error {
	if amount < 0 {
		return domain.Invalid("amount", "must not be negative")
	}
	if amount == 0 {
		return nil
	}
	src := tx.Balance(from)
	if held {
		if src.Held < amount {
			return fmt.Errorf("ledger: %s held %d < %d: %w", from, src.Held, amount, domain.ErrInsufficientBalance)
		}
		src.Held -= amount
	} else {
		if src.Available < amount && !tx.l.overdraft[from] {
			return insufficientBalance(from, amount, src.Available)
		}
		src.Available -= amount
	}
	tx.putBalance(src)
	dst := tx.Balance(to)
	dst.Available += amount
	tx.putBalance(dst)

	tx.entry(domain.LedgerEntry{Account: from, MarketID: marketID, Reason: reason, CurrencyDelta: -amount})
	tx.entry(domain.LedgerEntry{Account: to, MarketID: marketID, Reason: reason, CurrencyDelta: amount})
	return nil
}

// Hold moves available currency into escrow.
func (tx *Tx) Hold(account string, amount int64) error {
	if amount == 0 {
		return nil
	}
	if err := positive("amount", amount); err != nil {
		return err
	}
	b := tx.Balance(account)
	if b.Available < amount {
		return insufficientBalance(account, amount, b.Available)
	}
	b.Available -= amount
	b.Held += amount
	tx.putBalance(b)
	return nil
}

// Release returns escrowed currency to available.
func (tx *Tx) Release(account string, amount int64) error {
	if amount == 0 {
		return nil
	}
	if err := positive("amount", amount); err != nil {
		return err
	}
	b := tx.Balance(account)
	if b.Held < amount {
		return fmt.Errorf("ledger: release %d from %s holding %d: %w", amount, account, b.Held, domain.ErrInsufficientBalance)
	}
	b.Held -= amount
	b.Available += amount
	tx.putBalance(b)
	return nil
}

// CreditShares adds shares to a position and cost to its basis.
func (tx *Tx) CreditShares(account, marketID string, o domain.Outcome, qty, cost int64, reason domain.EntryReason) error {
	if err := positive("quantity", qty); err != nil {
		return err
	}
	if cost < 0 {
		return domain.Invalid("cost", "must not be negative")
	}
	p := tx.Position(account, marketID, o)
	p.Shares += qty
	p.CostBasis += cost
	tx.putPosition(p)
	tx.entry(domain.LedgerEntry{Account: account, MarketID: marketID, Outcome: o, Reason: reason, ShareDelta: qty})
	return nil
}

// DebitShares removes shares from a position, either from its free shares
// or from the shares escrowed by an order. It returns the cost basis
// removed, proportional to the shares removed.
func (tx *Tx) DebitShares(account, marketID string, o domain.Outcome, qty int64, fromHeld bool, reason domain.EntryReason) (int64, error) {
	if err := positive("quantity", qty); err != nil {
		return 0, err
	}
	p := tx.Position(account, marketID, o)
	if fromHeld {
		if p.Held < qty {
			return 0, fmt.Errorf("ledger: %s holds %d escrowed %s shares < %d: %w", account, p.Held, o, qty, domain.ErrInsufficientShares)
		}
		p.Held -= qty
	} else if p.Free() < qty {
		return 0, fmt.Errorf("ledger: %s has %d free %s shares < %d: %w", account, p.Free(), o, qty, domain.ErrInsufficientShares)
	}
	basis := p.CostBasis
	if qty < p.Shares {
		basis = mulDiv(p.CostBasis, qty, p.Shares)
	}
	p.Shares -= qty
	p.CostBasis -= basis
	tx.putPosition(p)
	tx.entry(domain.LedgerEntry{Account: account, MarketID: marketID, Outcome: o, Reason: reason, ShareDelta: -qty})
	return basis, nil
}

// HoldShares escrows free shares for a resting sell order.
func (tx *Tx) HoldShares(account, marketID string, o domain.Outcome, qty int64) error {
	if err := positive("quantity", qty); err != nil {
		return err
	}
	p := tx.Position(account, marketID, o)
	if p.Free() < qty {
		return fmt.Errorf("ledger: %s has %d free %s shares < %d: %w", account, p.Free(), o, qty, domain.ErrInsufficientShares)
	}
	p.Held += qty
	tx.putPosition(p)
	return nil
}

// ReleaseShares returns escrowed shares to free.
func (tx *Tx) ReleaseShares(account, marketID string, o domain.Outcome, qty int64) error {
	if qty == 0 {
		return nil
	}
	if err := positive("quantity", qty); err != nil {
		return err
	}
	p := tx.Position(account, marketID, o)
	if p.Held < qty {
		return fmt.Errorf("ledger: release %d %s shares from %s holding %d: %w", qty, o, account, p.Held, domain.ErrInsufficientShares)
	}
	p.Held -= qty
	tx.putPosition(p)
	return nil
}

// MintPair creates qty YES shares for yesAccount and qty NO shares for
// noAccount. The caller moves the matching collateral.
func (tx *Tx) MintPair(marketID, yesAccount, noAccount string, qty, yesCost, noCost int64) error {
	if err := tx.CreditShares(yesAccount, marketID, domain.OutcomeYes, qty, yesCost, domain.ReasonMint); err != nil {
		return err
	}
	return tx.CreditShares(noAccount, marketID, domain.OutcomeNo, qty, noCost, domain.ReasonMint)
}

// BurnPair destroys qty escrowed YES shares of yesAccount and qty escrowed
// NO shares of noAccount. The caller releases the collateral.
func (tx *Tx) BurnPair(marketID, yesAccount, noAccount string, qty int64) error {
	if _, err := tx.DebitShares(yesAccount, marketID, domain.OutcomeYes, qty, true, domain.ReasonBurn); err != nil {
		return err
	}
	_, err := tx.DebitShares(noAccount, marketID, domain.OutcomeNo, qty, true, domain.ReasonBurn)
	return err
}

// ZeroPosition removes every share of a position, escrowed or not, and
// returns the shares and cost basis it held.
func (tx *Tx) ZeroPosition(account, marketID string, o domain.Outcome, reason domain.EntryReason) (shares, basis int64) {
	p := tx.Position(account, marketID, o)
	shares, basis = p.Shares, p.CostBasis
	if shares == 0 && basis == 0 && p.Held == 0 {
		return 0, 0
	}
	p.Shares, p.Held, p.CostBasis = 0, 0, 0
	tx.putPosition(p)
	if shares != 0 {
		tx.entry(domain.LedgerEntry{Account: account, MarketID: marketID, Outcome: o, Reason: reason, ShareDelta: -shares})
	}
	return shares, basis
}

func positive(field string, v int64) error {
	if v <= 0 {
		return domain.Invalid(field, "must be positive, got %d", v)
	}
	return nil
}

func insufficientBalance(account string, want, have int64) error {
	return fmt.Errorf("ledger: %s available %d < %d: %w", account, have, want, domain.ErrInsufficientBalance)
}
