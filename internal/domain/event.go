package domain

import "time"

// EventType names a published market event.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventMarketClosed    EventType = "market_closed"
	EventMarketResolved  EventType = "market_resolved"
	EventMarketCancelled EventType = "market_cancelled"
	EventOrderPlaced     EventType = "order_placed"
	EventOrderCancelled  EventType = "order_cancelled"
	EventFill            EventType = "fill"
	EventAMMTrade        EventType = "amm_trade"
	EventBookUpdated     EventType = "book_updated"
)

// Bus channels and streams.
const (
	ChannelMarkets    = "markets"
	ChannelBookPrefix = "book:"
	ChannelFillPrefix = "fills:"
	StreamFills       = "stream:fills"
)

// Event is a state change fanned out after its batch is persisted.
type Event struct {
	Type      EventType `json:"type"`
	MarketID  string    `json:"market_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Channel returns the bus channel the event is published on.
func (e Event) Channel() string {
	switch e.Type {
	case EventBookUpdated:
		return ChannelBookPrefix + e.MarketID
	case EventFill, EventAMMTrade:
		return ChannelFillPrefix + e.MarketID
	default:
		return ChannelMarkets
	}
}
