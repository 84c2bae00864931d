package domain

import "time"

// PriceLevel is aggregated resting quantity at one YES-axis price.
type PriceLevel struct {
	Price    int64 // ticks
	Quantity int64 // micro-shares
	Orders   int
}

// OrderbookSnapshot is the aggregated view of a CLOB market.
type OrderbookSnapshot struct {
	MarketID       string
	Bids           []PriceLevel // best (highest) first
	Asks           []PriceLevel // best (lowest) first
	LastTradePrice int64
	Seq            uint64
	Timestamp      time.Time
}

// BestBid returns the highest bid price or 0.
func (s OrderbookSnapshot) BestBid() int64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price or 0.
func (s OrderbookSnapshot) BestAsk() int64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}
