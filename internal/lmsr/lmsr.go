// Package lmsr implements the binary Logarithmic Market Scoring Rule used by
// AMM markets.
//
// The cost function is C(q) = b * ln(exp(qYes/b) + exp(qNo/b)) and prices are
// its partial derivatives, a softmax over q/b. Every evaluation goes through
// log-sum-exp so that large share quantities never overflow. Trade costs are
// computed from log-prices directly instead of differencing two large costs.
package lmsr

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// State is the outstanding share quantity per outcome plus the liquidity
// parameter b.
type State struct {
	QYes float64
	QNo  float64
	B    float64
}

// FromMarket extracts the AMM state of a market.
func FromMarket(m domain.Market) State {
	return State{QYes: m.QYes, QNo: m.QNo, B: m.Liquidity}
}

// Validate rejects states the cost function is undefined for.
func (s State) Validate() error {
	if !finite(s.B) || s.B <= 0 {
		return domain.Invalid("liquidity", "b must be a positive finite number, got %v", s.B)
	}
	if !finite(s.QYes) || !finite(s.QNo) {
		return domain.Invalid("quantity", "share quantities must be finite")
	}
	return nil
}

// Cost evaluates C(qYes, qNo).
func (s State) Cost() float64 {
	return s.B * logAddExp(s.QYes/s.B, s.QNo/s.B)
}

// Prices returns the marginal price of YES and NO. Each lies in (0, 1) and
// they sum to 1 up to rounding.
func (s State) Prices() (yes, no float64) {
	lpYes, lpNo := s.logPrices()
	return math.Exp(lpYes), math.Exp(lpNo)
}

// Price returns the marginal price of one outcome.
func (s State) Price(o domain.Outcome) float64 {
	yes, no := s.Prices()
	if o == domain.OutcomeYes {
		return yes
	}
	return no
}

// BuyCost returns C(q + shares*e_o) - C(q).
func (s State) BuyCost(o domain.Outcome, shares float64) float64 {
	if shares == 0 {
		return 0
	}
	lpO, lpOther := s.outcomeLogPrices(o)
	return s.B * logAddExp(lpO+shares/s.B, lpOther)
}

// SellRevenue returns C(q) - C(q - shares*e_o).
func (s State) SellRevenue(o domain.Outcome, shares float64) float64 {
	if shares == 0 {
		return 0
	}
	lpO, lpOther := s.outcomeLogPrices(o)
	return -s.B * logAddExp(lpO-shares/s.B, lpOther)
}

// Apply returns the state after delta shares of o were issued (delta > 0) or
// redeemed (delta < 0).
func (s State) Apply(o domain.Outcome, delta float64) State {
	if o == domain.OutcomeYes {
		s.QYes += delta
	} else {
		s.QNo += delta
	}
	return s
}

// MaxLoss is the most the market maker can lose from this state on, which
// is the subsidy a new market must be funded with. For a market starting at
// q = (0, 0) it equals b * ln 2.
func (s State) MaxLoss() float64 {
	return s.Cost() - math.Min(s.QYes, s.QNo)
}

func (s State) logPrices() (lpYes, lpNo float64) {
	z := (s.QNo - s.QYes) / s.B
	return -softplus(z), -softplus(-z)
}

func (s State) outcomeLogPrices(o domain.Outcome) (float64, float64) {
	lpYes, lpNo := s.logPrices()
	if o == domain.OutcomeYes {
		return lpYes, lpNo
	}
	return lpNo, lpYes
}

// logAddExp computes ln(exp(a) + exp(b)) without overflow.
func logAddExp(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// softplus computes ln(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func checkAmount(field string, v float64) error {
	if !finite(v) || v < 0 {
		return domain.Invalid(field, "must be a non-negative finite number, got %v", v)
	}
	return nil
}

func instability(format string, args ...any) error {
	return fmt.Errorf("lmsr: %w: %s", domain.ErrNumericInstability, fmt.Sprintf(format, args...))
}
