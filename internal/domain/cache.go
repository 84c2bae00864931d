package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest outcome prices.
type PriceCache interface {
	SetPrices(ctx context.Context, marketID string, yes, no float64, ts time.Time) error
	GetPrices(ctx context.Context, marketID string) (yes, no float64, ts time.Time, err error)
}

// OrderbookCache stores the latest aggregated book per market.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, snap OrderbookSnapshot) error
	GetBBO(ctx context.Context, marketID string) (bestBid, bestAsk int64, err error)
}

// MarketCache publishes market state for readers outside this process.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
