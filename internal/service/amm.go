package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/ledger"
	"github.com/alanyoungcy/predictex/internal/lmsr"
	"github.com/alanyoungcy/predictex/internal/registry"
)

// BuyRequest spends Amount currency micros on Outcome shares.
type BuyRequest struct {
	UserID         string
	MarketID       string
	Outcome        domain.Outcome
	Amount         int64
	IdempotencyKey string
}

// BuyResult reports an executed AMM buy.
type BuyResult struct {
	TradeID        string
	SharesAcquired int64
	Fee            int64
	NewPriceYes    float64
	NewPriceNo     float64
	NewBalance     int64
}

// SellRequest sells Shares micro-shares of Outcome back to the AMM.
type SellRequest struct {
	UserID         string
	MarketID       string
	Outcome        domain.Outcome
	Shares         int64
	IdempotencyKey string
}

// SellResult reports an executed AMM sell. Revenue is what the seller
// received after the fee.
type SellResult struct {
	TradeID     string
	Revenue     int64
	Fee         int64
	NewPriceYes float64
	NewPriceNo  float64
	NewBalance  int64
}

func validateTrader(user string, o domain.Outcome) error {
	if err := domain.CheckUserID(user); err != nil {
		return err
	}
	_, err := domain.ParseOutcome(string(o))
	return err
}

// Buy executes an AMM purchase.
func (t *Trading) Buy(ctx context.Context, req BuyRequest) (BuyResult, error) {
	if err := validateTrader(req.UserID, req.Outcome); err != nil {
		return BuyResult{}, t.reject(ctx, "buy", err)
	}
	if err := domain.CheckAmount("amount", req.Amount); err != nil {
		return BuyResult{}, t.reject(ctx, "buy", err)
	}
	e, err := t.entry(req.MarketID)
	if err != nil {
		return BuyResult{}, t.reject(ctx, "buy", err)
	}
	opID := t.opKey("buy", req.UserID, req.IdempotencyKey)

	var out BuyResult
	err = e.Do(func(s *registry.State) error {
		if r, ok, err := cached[BuyResult](t, opID); ok || err != nil {
			out = r
			return err
		}
		m := s.Market
		if err := checkTradable(m, domain.MarketModeAMM); err != nil {
			return err
		}
		q, err := t.maker.QuoteBuy(lmsr.FromMarket(*m), req.Outcome, req.Amount)
		if err != nil {
			return err
		}
		lr, err := t.ledger.Commit(opID, func(tx *ledger.Tx) error {
			if err := tx.Transfer(req.UserID, domain.PlatformAccount, q.Fee, m.ID, domain.ReasonFee); err != nil {
				return err
			}
			if err := tx.Transfer(req.UserID, m.Account(), q.Net, m.ID, domain.ReasonTrade); err != nil {
				return err
			}
			return tx.CreditShares(req.UserID, m.ID, req.Outcome, q.Shares, q.Gross, domain.ReasonTrade)
		})
		if err != nil {
			return err
		}

		trade := t.applyAMM(m, q.After, domain.Trade{
			UserID:  req.UserID,
			Outcome: req.Outcome,
			Side:    domain.TradeSideBuy,
			Gross:   q.Gross,
			Fee:     q.Fee,
			Shares:  q.Shares,
		}, opID, lr)
		t.metrics.SolverIterations.Observe(float64(q.Iterations))

		out = BuyResult{
			TradeID:        trade.ID,
			SharesAcquired: q.Shares,
			Fee:            q.Fee,
			NewPriceYes:    q.PriceYes,
			NewPriceNo:     q.PriceNo,
			NewBalance:     t.ledger.Balance(req.UserID).Available,
		}
		t.responses.Put(opID, out)
		return nil
	})
	if err != nil {
		return BuyResult{}, t.reject(ctx, "buy", fmt.Errorf("service: buy %s: %w", req.MarketID, err))
	}
	return out, nil
}

// Sell executes an AMM sale.
func (t *Trading) Sell(ctx context.Context, req SellRequest) (SellResult, error) {
	if err := validateTrader(req.UserID, req.Outcome); err != nil {
		return SellResult{}, t.reject(ctx, "sell", err)
	}
	if err := domain.CheckAmount("shares", req.Shares); err != nil {
		return SellResult{}, t.reject(ctx, "sell", err)
	}
	e, err := t.entry(req.MarketID)
	if err != nil {
		return SellResult{}, t.reject(ctx, "sell", err)
	}
	opID := t.opKey("sell", req.UserID, req.IdempotencyKey)

	var out SellResult
	err = e.Do(func(s *registry.State) error {
		if r, ok, err := cached[SellResult](t, opID); ok || err != nil {
			out = r
			return err
		}
		m := s.Market
		if err := checkTradable(m, domain.MarketModeAMM); err != nil {
			return err
		}
		if free := t.ledger.Position(req.UserID, m.ID, req.Outcome).Free(); free < req.Shares {
			return fmt.Errorf("service: %s holds %d free %s shares: %w", req.UserID, free, req.Outcome, domain.ErrInsufficientShares)
		}
		q, err := t.maker.QuoteSell(lmsr.FromMarket(*m), req.Outcome, req.Shares)
		if err != nil {
			return err
		}
		lr, err := t.ledger.Commit(opID, func(tx *ledger.Tx) error {
			if _, err := tx.DebitShares(req.UserID, m.ID, req.Outcome, q.Shares, false, domain.ReasonTrade); err != nil {
				return err
			}
			if err := tx.Transfer(m.Account(), req.UserID, q.Payout, m.ID, domain.ReasonTrade); err != nil {
				return err
			}
			return tx.Transfer(m.Account(), domain.PlatformAccount, q.Fee, m.ID, domain.ReasonFee)
		})
		if err != nil {
			return err
		}

		trade := t.applyAMM(m, q.After, domain.Trade{
			UserID:  req.UserID,
			Outcome: req.Outcome,
			Side:    domain.TradeSideSell,
			Gross:   q.Revenue,
			Fee:     q.Fee,
			Shares:  q.Shares,
		}, opID, lr)

		out = SellResult{
			TradeID:     trade.ID,
			Revenue:     q.Payout,
			Fee:         q.Fee,
			NewPriceYes: q.PriceYes,
			NewPriceNo:  q.PriceNo,
			NewBalance:  t.ledger.Balance(req.UserID).Available,
		}
		t.responses.Put(opID, out)
		return nil
	})
	if err != nil {
		return SellResult{}, t.reject(ctx, "sell", fmt.Errorf("service: sell %s: %w", req.MarketID, err))
	}
	return out, nil
}

// applyAMM moves the market to its post-trade state and journals the trade.
// The caller holds the market lock and has committed lr.
func (t *Trading) applyAMM(m *domain.Market, after lmsr.State, trade domain.Trade, opID string, lr ledger.Result) domain.Trade {
	now := t.now()
	m.QYes, m.QNo = after.QYes, after.QNo
	m.UpdatedAt = now

	trade.ID = t.newID()
	trade.MarketID = m.ID
	trade.PriceYes, trade.PriceNo = after.Prices()
	trade.OperationID = opID
	trade.CreatedAt = now

	b := domain.Batch{
		OpID:    opID,
		Markets: []domain.Market{*m},
		Trades:  []domain.Trade{trade},
		Events:  []domain.Event{t.event(domain.EventAMMTrade, m.ID, trade)},
	}
	addLedger(&b, lr)
	t.enqueue(b)
	t.metrics.AMMTrades.With("side", string(trade.Side), "outcome", string(trade.Outcome)).Add(1)
	return trade
}
