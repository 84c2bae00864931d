package domain

import (
	"fmt"
	"strings"
	"time"
)

// MarketMode selects the pricing regime of a market.
type MarketMode string

const (
	MarketModeAMM  MarketMode = "amm"
	MarketModeCLOB MarketMode = "clob"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen          MarketStatus = "open"
	MarketStatusTradingClosed MarketStatus = "trading_closed"
	MarketStatusResolved      MarketStatus = "resolved"
	MarketStatusCancelled     MarketStatus = "cancelled"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Opposite returns the other outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// ParseOutcome validates an outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeYes, OutcomeNo:
		return Outcome(s), nil
	}
	return "", Invalid("outcome", "%q is not yes or no", s)
}

// Market is a binary prediction market.
type Market struct {
	ID       string
	Question string
	Mode     MarketMode
	Status   MarketStatus

	// AMM state, share quantities outstanding per outcome and the
	// liquidity parameter b. Unused for CLOB markets.
	QYes      float64
	QNo       float64
	Liquidity float64

	LastTradePrice int64 // CLOB price ticks, 0 until the first fill
	Resolution     Outcome
	CloseTime      time.Time
	ClosedAt       *time.Time
	SettledAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOpen reports whether the market accepts trades and orders.
func (m Market) IsOpen() bool { return m.Status == MarketStatusOpen }

// IsSettled reports whether the market reached a terminal status.
func (m Market) IsSettled() bool {
	return m.Status == MarketStatusResolved || m.Status == MarketStatusCancelled
}

// Account returns the ledger account that holds the market's collateral.
func (m Market) Account() string { return MarketAccount(m.ID) }

// MarketAccount names the collateral/pool account of a market.
func MarketAccount(marketID string) string { return "market:" + marketID }

// PlatformAccount receives fees and funds subsidies and refund shortfalls.
const PlatformAccount = "platform"

// IsReservedAccount reports whether id names one of the ledger's own
// accounts, which no user may trade or be funded as.
func IsReservedAccount(id string) bool {
	return id == PlatformAccount || strings.HasPrefix(id, MarketAccount(""))
}

// CheckUserID validates the id of a trading user.
func CheckUserID(id string) error {
	if id == "" {
		return Invalid("user_id", "must not be empty")
	}
	if IsReservedAccount(id) {
		return Invalid("user_id", "%q is a reserved account", id)
	}
	return nil
}

var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketStatusOpen:          {MarketStatusTradingClosed},
	MarketStatusTradingClosed: {MarketStatusResolved, MarketStatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to MarketStatus) bool {
	for _, s := range marketTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both states.
func CheckTransition(from, to MarketStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
