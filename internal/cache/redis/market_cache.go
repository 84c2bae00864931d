package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictex/internal/domain"
)

const (
	marketTTL        = 5 * time.Minute
	settledMarketTTL = 24 * time.Hour
)

// MarketCache implements domain.MarketCache with JSON-serialized markets.
//
// Key schema:
//
//	market:{id} - JSON encoded domain.Market
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id string) string { return "market:" + id }

// marketExpiry keeps settled markets longer since they no longer change.
func marketExpiry(m domain.Market) time.Duration {
	if m.IsSettled() {
		return settledMarketTTL
	}
	return marketTTL
}

// Set stores a Market in the cache.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(market.ID), data, marketExpiry(market)).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
