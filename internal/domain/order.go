package domain

import "time"

// Intent is what the user asked for, expressed in the outcome's own terms.
type Intent string

const (
	IntentBuyYes  Intent = "buy_yes"
	IntentBuyNo   Intent = "buy_no"
	IntentSellYes Intent = "sell_yes"
	IntentSellNo  Intent = "sell_no"
)

// ParseIntent validates an order intent string.
func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentBuyYes, IntentBuyNo, IntentSellYes, IntentSellNo:
		return Intent(s), nil
	}
	return "", Invalid("intent", "%q is not a known intent", s)
}

// Outcome returns the outcome whose shares the intent trades.
func (i Intent) Outcome() Outcome {
	if i == IntentBuyYes || i == IntentSellYes {
		return OutcomeYes
	}
	return OutcomeNo
}

// IsBuy reports whether the intent acquires shares.
func (i Intent) IsBuy() bool { return i == IntentBuyYes || i == IntentBuyNo }

// BookSide is the side of the YES-axis book an intent rests on.
func (i Intent) BookSide() BookSide {
	if i == IntentBuyYes || i == IntentSellNo {
		return SideBid
	}
	return SideAsk
}

// BookPrice maps a limit price in the intent's own terms onto the YES axis.
func (i Intent) BookPrice(limit int64) int64 {
	if i.Outcome() == OutcomeNo {
		return TicksPerUnit - limit
	}
	return limit
}

// OwnPrice maps a YES-axis price back into the intent's own terms.
func (i Intent) OwnPrice(bookPrice int64) int64 {
	if i.Outcome() == OutcomeNo {
		return TicksPerUnit - bookPrice
	}
	return bookPrice
}

// BookSide is bid or ask on the YES price axis.
type BookSide string

const (
	SideBid BookSide = "bid"
	SideAsk BookSide = "ask"
)

// TimeInForce controls what happens to an unfilled residual.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // rest the residual
	TimeInForceFAK TimeInForce = "FAK" // fill what is possible, cancel the rest
	TimeInForceFOK TimeInForce = "FOK" // fill completely or reject
)

// ParseTimeInForce validates a time-in-force; empty means GTC.
func ParseTimeInForce(s string) (TimeInForce, error) {
	switch TimeInForce(s) {
	case "":
		return TimeInForceGTC, nil
	case TimeInForceGTC, TimeInForceFAK, TimeInForceFOK:
		return TimeInForce(s), nil
	}
	return "", Invalid("time_in_force", "%q is not GTC, FAK or FOK", s)
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Order is a CLOB limit order.
type Order struct {
	ID             string
	MarketID       string
	UserID         string
	Intent         Intent
	Side           BookSide
	LimitPrice     int64 // ticks, in the intent's own outcome terms
	BookPrice      int64 // ticks on the YES axis
	Quantity       int64 // micro-shares
	Filled         int64 // micro-shares
	TimeInForce    TimeInForce
	Status         OrderStatus
	Seq            uint64 // per-market arrival sequence
	Held           int64  // currency micros or share micros still escrowed
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CancelledAt    *time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 { return o.Quantity - o.Filled }

// Active reports whether the order can still be matched or cancelled.
func (o Order) Active() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

// DeriveStatus returns the status implied by the fill state.
func (o Order) DeriveStatus() OrderStatus {
	switch {
	case o.Status == OrderStatusCancelled:
		return OrderStatusCancelled
	case o.Filled >= o.Quantity:
		return OrderStatusFilled
	case o.Filled > 0:
		return OrderStatusPartiallyFilled
	default:
		return OrderStatusOpen
	}
}

// Price returns the limit price as a display float.
func (o Order) Price() float64 {
	return float64(o.LimitPrice) / float64(TicksPerUnit)
}

// Size returns the quantity as a display float.
func (o Order) Size() float64 {
	return float64(o.Quantity) / float64(MicrosPerShare)
}
