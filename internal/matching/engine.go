// Package matching executes CLOB orders against a market's book and settles
// every execution through the ledger.
//
// All four intents share one YES price axis. A match between a bid and an
// ask settles according to what each side originally asked for:
//
//	buy_yes  x sell_yes  transfer of YES shares
//	sell_no  x buy_no    transfer of NO shares
//	buy_yes  x buy_no    mint of a new YES/NO pair
//	sell_no  x sell_yes  burn of an existing pair
//
// Matching is planned against the book first, settled in one ledger batch,
// and only then applied to the book, so a settlement failure leaves both the
// book and the ledger untouched.
package matching

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/ledger"
	"github.com/alanyoungcy/predictex/internal/orderbook"
)

// Engine is stateless apart from its configuration; callers serialize per
// market.
type Engine struct {
	ledger *ledger.Ledger
	feeBps int64
	now    func() time.Time
	newID  func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithIDs overrides fill id generation.
func WithIDs(newID func() string) Option { return func(e *Engine) { e.newID = newID } }

// New creates an Engine charging feeBps on each side's notional.
func New(l *ledger.Ledger, feeBps int64, opts ...Option) *Engine {
	e := &Engine{
		ledger: l,
		feeBps: feeBps,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result is the effect of placing one order.
type Result struct {
	Order   domain.Order   // the incoming order after matching
	Fills   []domain.Fill  // in execution order
	Resting []domain.Order // post-fill state of every resting order touched
	Ledger  ledger.Result
}

type match struct {
	resting *domain.Order
	qty     int64
}

// Validate checks an order's user-supplied fields.
func Validate(o domain.Order) error {
	if _, err := domain.ParseIntent(string(o.Intent)); err != nil {
		return err
	}
	if o.LimitPrice < domain.MinPriceTicks || o.LimitPrice > domain.MaxPriceTicks {
		return domain.Invalid("price", "must be between 0.01 and 0.99")
	}
	if err := domain.CheckAmount("quantity", o.Quantity); err != nil {
		return err
	}
	if o.Quantity%domain.ShareLot != 0 {
		return domain.Invalid("quantity", "must be a multiple of 0.01 shares")
	}
	if _, err := domain.ParseTimeInForce(string(o.TimeInForce)); err != nil {
		return err
	}
	return nil
}

// Place escrows, matches and, for GTC orders, rests o. The caller holds the
// market lock and has checked that the market is an open CLOB market.
func (e *Engine) Place(book *orderbook.Book, o domain.Order, opID string) (Result, error) {
	if err := Validate(o); err != nil {
		return Result{}, err
	}
	now := e.now()
	o.MarketID = book.MarketID()
	o.Side = o.Intent.BookSide()
	o.BookPrice = o.Intent.BookPrice(o.LimitPrice)
	o.Filled = 0
	o.Status = domain.OrderStatusOpen
	if o.TimeInForce == "" {
		o.TimeInForce = domain.TimeInForceGTC
	}
	o.CreatedAt, o.UpdatedAt = now, now

	if o.TimeInForce == domain.TimeInForceFOK && book.Matchable(o.Side, o.BookPrice, o.Quantity) < o.Quantity {
		return Result{}, domain.Invalid("quantity", "fill-or-kill order cannot be filled completely")
	}

	plan := e.plan(book, o)
	held := make(map[string]int64, len(plan)+1)
	var fills []domain.Fill

	res, err := e.ledger.Commit(opID, func(tx *ledger.Tx) error {
		if err := e.escrow(tx, &o); err != nil {
			return err
		}
		held[o.ID] = o.Held
		for _, m := range plan {
			if _, ok := held[m.resting.ID]; !ok {
				held[m.resting.ID] = m.resting.Held
			}
			f, err := e.settle(tx, &o, m.resting, m.qty, held, now)
			if err != nil {
				return err
			}
			fills = append(fills, f)
		}
		o.Held = held[o.ID]
		if o.Remaining() > 0 && o.TimeInForce != domain.TimeInForceGTC {
			if err := release(tx, &o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("matching: place %s: %w", o.ID, err)
	}

	out := Result{Ledger: res, Fills: fills}
	for _, m := range plan {
		m.resting.Held = held[m.resting.ID]
		book.Fill(m.resting, m.qty, now)
		book.SetLastTrade(m.resting.BookPrice)
		out.Resting = append(out.Resting, *m.resting)
	}

	o.Status = o.DeriveStatus()
	switch {
	case o.Remaining() == 0:
	case o.TimeInForce == domain.TimeInForceGTC:
		if err := book.Add(&o); err != nil {
			return Result{}, fmt.Errorf("matching: rest %s: %w", o.ID, err)
		}
	default:
		o.Status = domain.OrderStatusCancelled
		o.CancelledAt = &now
	}
	if o.Seq == 0 {
		o.Seq = book.NextSeq()
	}
	out.Order = o
	return out, nil
}

// plan walks the opposing side and records which resting orders the
// incoming order executes against, without touching the book.
func (e *Engine) plan(book *orderbook.Book, o domain.Order) []match {
	remaining := o.Quantity
	var plan []match
	book.Walk(o.Side, o.BookPrice, func(r *domain.Order) bool {
		q := min(remaining, r.Remaining())
		plan = append(plan, match{resting: r, qty: q})
		remaining -= q
		return remaining > 0
	})
	return plan
}

// escrow reserves what the order may spend: currency at its limit plus fee
// for buys, shares for sells.
func (e *Engine) escrow(tx *ledger.Tx, o *domain.Order) error {
	if o.Intent.IsBuy() {
		notional := domain.Notional(o.LimitPrice, o.Quantity)
		o.Held = notional + domain.FeeFor(notional, e.feeBps)
		return tx.Hold(o.UserID, o.Held)
	}
	o.Held = o.Quantity
	return tx.HoldShares(o.UserID, o.MarketID, o.Intent.Outcome(), o.Quantity)
}

// settle executes qty between the incoming order and one resting order at
// the resting order's price.
func (e *Engine) settle(tx *ledger.Tx, in, rest *domain.Order, qty int64, held map[string]int64, now time.Time) (domain.Fill, error) {
	bid, ask := in, rest
	if in.Side == domain.SideAsk {
		bid, ask = rest, in
	}
	price := rest.BookPrice
	marketID := in.MarketID
	pool := domain.MarketAccount(marketID)

	bidAmt := domain.Notional(bid.Intent.OwnPrice(price), qty)
	askAmt := domain.Notional(ask.Intent.OwnPrice(price), qty)
	f := domain.Fill{
		ID:           e.newID(),
		MarketID:     marketID,
		BidOrderID:   bid.ID,
		AskOrderID:   ask.ID,
		TakerOrderID: in.ID,
		BidUserID:    bid.UserID,
		AskUserID:    ask.UserID,
		Price:        price,
		Quantity:     qty,
		BidAmount:    bidAmt,
		AskAmount:    askAmt,
		BidFee:       domain.FeeFor(bidAmt, e.feeBps),
		AskFee:       domain.FeeFor(askAmt, e.feeBps),
		CreatedAt:    now,
	}

	var err error
	switch {
	case bid.Intent == domain.IntentBuyYes && ask.Intent == domain.IntentSellYes:
		f.Kind = domain.FillKindTransfer
		err = e.transfer(tx, bid, f.BidAmount, f.BidFee, ask, f.AskFee, qty, held)
	case bid.Intent == domain.IntentSellNo && ask.Intent == domain.IntentBuyNo:
		f.Kind = domain.FillKindTransfer
		err = e.transfer(tx, ask, f.AskAmount, f.AskFee, bid, f.BidFee, qty, held)
	case bid.Intent == domain.IntentBuyYes && ask.Intent == domain.IntentBuyNo:
		f.Kind = domain.FillKindMint
		err = e.mint(tx, pool, bid, f.BidAmount, f.BidFee, ask, f.AskAmount, f.AskFee, qty, held)
	case bid.Intent == domain.IntentSellNo && ask.Intent == domain.IntentSellYes:
		f.Kind = domain.FillKindBurn
		err = e.burn(tx, pool, ask, f.AskAmount, f.AskFee, bid, f.BidAmount, f.BidFee, qty, held)
	default:
		err = fmt.Errorf("matching: impossible pairing %s/%s", bid.Intent, ask.Intent)
	}
	if err != nil {
		return domain.Fill{}, err
	}
	in.Filled += qty
	return f, nil
}

// transfer moves existing shares from seller to buyer for amount.
func (e *Engine) transfer(tx *ledger.Tx, buyer *domain.Order, amount, buyerFee int64, seller *domain.Order, sellerFee, qty int64, held map[string]int64) error {
	o := buyer.Intent.Outcome()
	m := buyer.MarketID
	if err := e.payFromHold(tx, buyer, amount, buyerFee, seller.UserID, qty, domain.ReasonTrade, held); err != nil {
		return err
	}
	if _, err := tx.DebitShares(seller.UserID, m, o, qty, true, domain.ReasonTrade); err != nil {
		return err
	}
	held[seller.ID] -= qty
	if err := tx.CreditShares(buyer.UserID, m, o, qty, amount+buyerFee, domain.ReasonTrade); err != nil {
		return err
	}
	return tx.Transfer(seller.UserID, domain.PlatformAccount, sellerFee, m, domain.ReasonFee)
}

// mint creates a new pair: both buyers pay into the market collateral.
func (e *Engine) mint(tx *ledger.Tx, pool string, yes *domain.Order, yesAmt, yesFee int64, no *domain.Order, noAmt, noFee, qty int64, held map[string]int64) error {
	if err := e.payFromHold(tx, yes, yesAmt, yesFee, pool, qty, domain.ReasonMint, held); err != nil {
		return err
	}
	if err := e.payFromHold(tx, no, noAmt, noFee, pool, qty, domain.ReasonMint, held); err != nil {
		return err
	}
	return tx.MintPair(yes.MarketID, yes.UserID, no.UserID, qty, yesAmt+yesFee, noAmt+noFee)
}

// burn destroys a pair: the market collateral pays both sellers.
func (e *Engine) burn(tx *ledger.Tx, pool string, yes *domain.Order, yesAmt, yesFee int64, no *domain.Order, noAmt, noFee, qty int64, held map[string]int64) error {
	m := yes.MarketID
	if err := tx.BurnPair(m, yes.UserID, no.UserID, qty); err != nil {
		return err
	}
	held[yes.ID] -= qty
	held[no.ID] -= qty
	for _, leg := range []struct {
		user     string
		amt, fee int64
	}{{yes.UserID, yesAmt, yesFee}, {no.UserID, noAmt, noFee}} {
		if err := tx.Transfer(pool, leg.user, leg.amt, m, domain.ReasonBurn); err != nil {
			return err
		}
		if err := tx.Transfer(leg.user, domain.PlatformAccount, leg.fee, m, domain.ReasonFee); err != nil {
			return err
		}
	}
	return nil
}

// payFromHold spends amount plus fee out of a buy order's escrow and
// releases the part of the escrow reserved for qty that price improvement
// left unspent. Any rounding remainder of the escrow is released when the
// order completes.
func (e *Engine) payFromHold(tx *ledger.Tx, buyer *domain.Order, amount, fee int64, to string, qty int64, reason domain.EntryReason, held map[string]int64) error {
	reservedNotional := domain.Notional(buyer.LimitPrice, qty)
	reserved := reservedNotional + domain.FeeFor(reservedNotional, e.feeBps)
	if err := tx.TransferHeld(buyer.UserID, to, amount, buyer.MarketID, reason); err != nil {
		return err
	}
	if err := tx.TransferHeld(buyer.UserID, domain.PlatformAccount, fee, buyer.MarketID, domain.ReasonFee); err != nil {
		return err
	}
	if err := tx.Release(buyer.UserID, reserved-amount-fee); err != nil {
		return err
	}
	held[buyer.ID] -= reserved
	if buyer.Filled+qty == buyer.Quantity && held[buyer.ID] > 0 {
		if err := tx.Release(buyer.UserID, held[buyer.ID]); err != nil {
			return err
		}
		held[buyer.ID] = 0
	}
	return nil
}

// release returns an order's remaining escrow.
func release(tx *ledger.Tx, o *domain.Order) error {
	if o.Held == 0 {
		return nil
	}
	var err error
	if o.Intent.IsBuy() {
		err = tx.Release(o.UserID, o.Held)
	} else {
		err = tx.ReleaseShares(o.UserID, o.MarketID, o.Intent.Outcome(), o.Held)
	}
	if err != nil {
		return err
	}
	o.Held = 0
	return nil
}
