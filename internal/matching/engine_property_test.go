package matching

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/ledger"
	"github.com/alanyoungcy/predictex/internal/orderbook"
)

var intents = []domain.Intent{
	domain.IntentBuyYes, domain.IntentBuyNo, domain.IntentSellYes, domain.IntentSellNo,
}

// TestRandomFlowConservesMoneyAndShares drives random orders and cancels
// through the engine and checks the ledger invariants after every step.
func TestRandomFlowConservesMoneyAndShares(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := ledger.New(ledger.WithOverdraft(domain.PlatformAccount))
		feeBps := rapid.SampledFrom([]int64{0, 25, 200}).Draw(t, "fee")
		e := New(l, feeBps, WithClock(func() time.Time { return time.Unix(0, 0) }))
		book := orderbook.New(market)

		users := []string{"u1", "u2", "u3", "u4"}
		var supply int64
		for _, u := range users {
			amount := rapid.Int64Range(0, 500).Draw(t, "deposit") * unit
			if amount == 0 {
				continue
			}
			if _, err := l.Commit("dep:"+u, func(tx *ledger.Tx) error { return tx.Deposit(u, amount) }); err != nil {
				t.Fatalf("deposit: %v", err)
			}
			supply += amount
		}

		var placed []string
		steps := rapid.IntRange(1, 80).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(placed) > 0 && rapid.IntRange(0, 4).Draw(t, "cancel?") == 0 {
				id := rapid.SampledFrom(placed).Draw(t, "cancel")
				if _, err := e.Cancel(book, id, fmt.Sprintf("cancel-%d", i)); err != nil {
					t.Fatalf("cancel %s: %v", id, err)
				}
			} else {
				o := domain.Order{
					ID:          fmt.Sprintf("o%d", i),
					UserID:      rapid.SampledFrom(users).Draw(t, "user"),
					Intent:      rapid.SampledFrom(intents).Draw(t, "intent"),
					LimitPrice:  rapid.Int64Range(1, 99).Draw(t, "price"),
					Quantity:    rapid.Int64Range(1, 2000).Draw(t, "lots") * domain.ShareLot,
					TimeInForce: rapid.SampledFrom([]domain.TimeInForce{domain.TimeInForceGTC, domain.TimeInForceFAK, domain.TimeInForceFOK}).Draw(t, "tif"),
				}
				res, err := e.Place(book, o, fmt.Sprintf("place-%d", i))
				switch {
				case err == nil:
					placed = append(placed, o.ID)
					checkFills(t, res.Fills)
				case errors.Is(err, domain.ErrInsufficientBalance),
					errors.Is(err, domain.ErrInsufficientShares),
					errors.Is(err, domain.ErrValidation):
				default:
					t.Fatalf("place: %v", err)
				}
			}
			checkLedger(t, l, book, supply)
		}
	})
}

func checkFills(t *rapid.T, fills []domain.Fill) {
	for _, f := range fills {
		switch f.Kind {
		case domain.FillKindMint, domain.FillKindBurn:
			if f.BidAmount+f.AskAmount != f.Quantity {
				t.Fatalf("%s fill %s: sides %d + %d != quantity %d", f.Kind, f.ID, f.BidAmount, f.AskAmount, f.Quantity)
			}
		case domain.FillKindTransfer:
			if f.BidAmount != f.AskAmount {
				t.Fatalf("transfer fill %s: buyer paid %d, seller got %d", f.ID, f.BidAmount, f.AskAmount)
			}
		}
	}
}

func checkLedger(t *rapid.T, l *ledger.Ledger, book *orderbook.Book, supply int64) {
	if got := l.Supply(); got != supply {
		t.Fatalf("currency supply %d, want %d", got, supply)
	}
	yes := l.SharesOutstanding(market, domain.OutcomeYes)
	no := l.SharesOutstanding(market, domain.OutcomeNo)
	collateral := l.Balance(pool).Total()
	if yes != no || yes != collateral {
		t.Fatalf("yes %d, no %d, collateral %d must all match", yes, no, collateral)
	}
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		b := l.Balance(u)
		if b.Available < 0 || b.Held < 0 {
			t.Fatalf("%s balance negative: %+v", u, b)
		}
		for _, p := range l.AccountPositions(u) {
			if p.Shares < 0 || p.Held < 0 || p.Held > p.Shares {
				t.Fatalf("%s position invalid: %+v", u, p)
			}
		}
	}
	var held int64
	for _, o := range book.Orders() {
		if o.Intent.IsBuy() {
			held += o.Held
		}
	}
	var ledgerHeld int64
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		ledgerHeld += l.Balance(u).Held
	}
	if held != ledgerHeld {
		t.Fatalf("orders escrow %d, ledger holds %d", held, ledgerHeld)
	}
	bid, okBid := book.BestPrice(domain.SideBid)
	ask, okAsk := book.BestPrice(domain.SideAsk)
	if okBid && okAsk && bid >= ask {
		t.Fatalf("book crossed: bid %d >= ask %d", bid, ask)
	}
}
