package domain

import "time"

// EntryReason types a ledger entry.
type EntryReason string

const (
	ReasonTrade      EntryReason = "trade"
	ReasonFee        EntryReason = "fee"
	ReasonMint       EntryReason = "mint"
	ReasonBurn       EntryReason = "burn"
	ReasonPayout     EntryReason = "payout"
	ReasonRefund     EntryReason = "refund"
	ReasonDeposit    EntryReason = "deposit"
	ReasonWithdrawal EntryReason = "withdrawal"
	ReasonSubsidy    EntryReason = "subsidy"
	ReasonSweep      EntryReason = "sweep"
)

// LedgerEntry is one immutable movement of currency or shares on one
// account. Entries of a single operation share an OpID.
type LedgerEntry struct {
	Seq           int64
	OpID          string
	Account       string
	MarketID      string
	Outcome       Outcome
	Reason        EntryReason
	CurrencyDelta int64
	ShareDelta    int64
	CreatedAt     time.Time
}
