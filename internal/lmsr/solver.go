package lmsr

import (
	"math"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Solver inverts the cost function by bisection.
type Solver struct {
	// Tolerance is the accepted absolute error, in currency units, between
	// the cost of the returned shares and the budget.
	Tolerance float64
	// MaxIterations bounds the bisection steps after bracketing.
	MaxIterations int
	// BracketFactor sets the initial upper bound to budget * BracketFactor.
	BracketFactor float64
}

const maxBracketDoublings = 64

// DefaultSolver returns the production solver settings.
func DefaultSolver() Solver {
	return Solver{Tolerance: 1e-9, MaxIterations: 200, BracketFactor: 10}
}

// Solution is the result of SharesForBudget.
type Solution struct {
	Shares     float64
	Cost       float64
	Iterations int
}

// SharesForBudget finds the shares of o that cost exactly budget, that is
// the Δ >= 0 with C(q + Δe_o) - C(q) = budget. It returns
// ErrNumericInstability rather than an approximation if the bisection does
// not reach the tolerance.
func (sv Solver) SharesForBudget(s State, o domain.Outcome, budget float64) (Solution, error) {
	if err := s.Validate(); err != nil {
		return Solution{}, err
	}
	if err := checkAmount("amount", budget); err != nil {
		return Solution{}, err
	}
	if budget == 0 {
		return Solution{}, nil
	}
	sv = sv.withDefaults()

	lo, hi := 0.0, budget*sv.BracketFactor
	for i := 0; s.BuyCost(o, hi) < budget; i++ {
		if i == maxBracketDoublings {
			return Solution{}, instability("no upper bound for budget %v", budget)
		}
		lo, hi = hi, hi*2
	}

	for iter := 1; iter <= sv.MaxIterations; iter++ {
		mid := lo + (hi-lo)/2
		cost := s.BuyCost(o, mid)
		if !finite(cost) {
			return Solution{}, instability("cost evaluated to %v at %v shares", cost, mid)
		}
		diff := cost - budget
		// mid == lo or mid == hi means float64 cannot split the bracket further.
		if math.Abs(diff) <= sv.Tolerance || mid <= lo || mid >= hi {
			return Solution{Shares: mid, Cost: cost, Iterations: iter}, nil
		}
		if diff < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return Solution{}, instability("bisection did not converge in %d iterations", sv.MaxIterations)
}

func (sv Solver) withDefaults() Solver {
	d := DefaultSolver()
	if sv.Tolerance <= 0 {
		sv.Tolerance = d.Tolerance
	}
	if sv.MaxIterations <= 0 {
		sv.MaxIterations = d.MaxIterations
	}
	if sv.BracketFactor <= 0 {
		sv.BracketFactor = d.BracketFactor
	}
	return sv
}
