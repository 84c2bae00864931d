package domain

import "time"

// FillKind classifies how a CLOB match settles.
type FillKind string

const (
	FillKindTransfer FillKind = "transfer"
	FillKindMint     FillKind = "mint"
	FillKindBurn     FillKind = "burn"
)

// Fill is an immutable CLOB execution between a bid and an ask.
type Fill struct {
	ID           string
	MarketID     string
	Kind         FillKind
	BidOrderID   string
	AskOrderID   string
	TakerOrderID string
	BidUserID    string
	AskUserID    string
	Price        int64 // YES-axis ticks
	Quantity     int64 // micro-shares
	BidAmount    int64 // currency paid (buy) or received (sell) by the bid side, before fees
	AskAmount    int64 // same for the ask side
	BidFee       int64
	AskFee       int64
	CreatedAt    time.Time
}

// TradeSide is the direction of an AMM trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is an immutable AMM execution.
type Trade struct {
	ID          string
	MarketID    string
	UserID      string
	Outcome     Outcome
	Side        TradeSide
	Gross       int64 // buy: amount debited, sell: pool revenue
	Fee         int64
	Shares      int64
	PriceYes    float64 // after the trade
	PriceNo     float64
	OperationID string
	CreatedAt   time.Time
}
