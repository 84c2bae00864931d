package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market's prices are stored at "price:{marketID}" with fields "yes",
// "no" and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

// SetPrices stores the latest outcome prices for a market.
func (pc *PriceCache) SetPrices(ctx context.Context, marketID string, yes, no float64, ts time.Time) error {
	fields := map[string]interface{}{
		"yes": strconv.FormatFloat(yes, 'f', -1, 64),
		"no":  strconv.FormatFloat(no, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(marketID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set prices %s: %w", marketID, err)
	}
	return nil
}

// GetPrices returns the latest prices. It returns domain.ErrNotFound when
// the market has never been priced.
func (pc *PriceCache) GetPrices(ctx context.Context, marketID string) (yes, no float64, ts time.Time, err error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get prices %s: %w", marketID, err)
	}
	return parsePrices(marketID, vals)
}

func parsePrices(marketID string, vals map[string]string) (yes, no float64, ts time.Time, err error) {
	if len(vals) == 0 {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}
	if yes, err = strconv.ParseFloat(vals["yes"], 64); err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse yes price %s: %w", marketID, err)
	}
	if no, err = strconv.ParseFloat(vals["no"], 64); err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse no price %s: %w", marketID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}
	return yes, no, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
