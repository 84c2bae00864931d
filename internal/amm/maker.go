// Package amm turns LMSR curve math into fixed-point trade quotes.
package amm

import (
	"math"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/lmsr"
)

// DefaultFeeBps is the 2% AMM trading fee.
const DefaultFeeBps = 200

// Maker quotes AMM trades against a market's LMSR state.
type Maker struct {
	Solver lmsr.Solver
	FeeBps int64
}

// NewMaker returns a Maker with the given solver and fee.
func NewMaker(solver lmsr.Solver, feeBps int64) *Maker {
	return &Maker{Solver: solver, FeeBps: feeBps}
}

// BuyQuote is the outcome of spending Gross on one outcome.
type BuyQuote struct {
	Outcome    domain.Outcome
	Gross      int64 // debited from the buyer
	Fee        int64 // to the platform
	Net        int64 // to the market pool
	Shares     int64 // micro-shares credited
	After      lmsr.State
	PriceYes   float64
	PriceNo    float64
	Iterations int
}

// SellQuote is the outcome of selling Shares of one outcome.
type SellQuote struct {
	Outcome  domain.Outcome
	Shares   int64
	Revenue  int64 // paid by the market pool
	Fee      int64 // to the platform
	Payout   int64 // credited to the seller
	After    lmsr.State
	PriceYes float64
	PriceNo  float64
}

// QuoteBuy prices a buy of amount micro-units of o.
func (m *Maker) QuoteBuy(s lmsr.State, o domain.Outcome, amount int64) (BuyQuote, error) {
	if err := domain.CheckAmount("amount", amount); err != nil {
		return BuyQuote{}, err
	}
	fee := domain.FeeFor(amount, m.FeeBps)
	net := amount - fee
	sol, err := m.Solver.SharesForBudget(s, o, domain.Units(net))
	if err != nil {
		return BuyQuote{}, err
	}
	shares := int64(math.Floor(sol.Shares * float64(domain.MicrosPerShare)))
	if shares <= 0 {
		return BuyQuote{}, domain.Invalid("amount", "too small to buy any shares")
	}
	after := s.Apply(o, float64(shares)/float64(domain.MicrosPerShare))
	yes, no := after.Prices()
	return BuyQuote{
		Outcome:    o,
		Gross:      amount,
		Fee:        fee,
		Net:        net,
		Shares:     shares,
		After:      after,
		PriceYes:   yes,
		PriceNo:    no,
		Iterations: sol.Iterations,
	}, nil
}

// QuoteSell prices a sale of shares micro-shares of o back to the pool.
func (m *Maker) QuoteSell(s lmsr.State, o domain.Outcome, shares int64) (SellQuote, error) {
	if err := domain.CheckAmount("shares", shares); err != nil {
		return SellQuote{}, err
	}
	if err := s.Validate(); err != nil {
		return SellQuote{}, err
	}
	qty := float64(shares) / float64(domain.MicrosPerShare)
	revenue := s.SellRevenue(o, qty)
	if math.IsNaN(revenue) || math.IsInf(revenue, 0) || revenue < 0 {
		return SellQuote{}, domain.ErrNumericInstability
	}
	gross := int64(math.Floor(revenue * float64(domain.MicrosPerUnit)))
	fee := domain.FeeFor(gross, m.FeeBps)
	after := s.Apply(o, -qty)
	yes, no := after.Prices()
	return SellQuote{
		Outcome:  o,
		Shares:   shares,
		Revenue:  gross,
		Fee:      fee,
		Payout:   gross - fee,
		After:    after,
		PriceYes: yes,
		PriceNo:  no,
	}, nil
}
