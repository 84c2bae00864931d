package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictex/internal/domain"
)

//go:embed scripts/orderbook_update.lua
var orderbookUpdateLua string

const bookTTL = time.Hour

// OrderbookCache implements domain.OrderbookCache. Snapshots are written by
// the journal after each book change, so concurrent writers can race; the
// update script drops any snapshot older than the stored one.
//
// Key schema:
//
//	book:{marketID}:snap - hash with "seq" and "data" (JSON snapshot)
//	book:{marketID}:bbo  - hash with "bid", "ask" and "seq"
type OrderbookCache struct {
	rdb             *redis.Client
	orderbookUpdate *redis.Script
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{
		rdb:             c.Underlying(),
		orderbookUpdate: redis.NewScript(orderbookUpdateLua),
	}
}

func bookSnapKey(marketID string) string { return "book:" + marketID + ":snap" }
func bookBBOKey(marketID string) string  { return "book:" + marketID + ":bbo" }

// SetSnapshot stores snap unless a snapshot with a higher Seq is present.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.MarketID, err)
	}

	keys := []string{bookSnapKey(snap.MarketID), bookBBOKey(snap.MarketID)}
	args := []interface{}{
		strconv.FormatUint(snap.Seq, 10),
		data,
		strconv.FormatInt(snap.BestBid(), 10),
		strconv.FormatInt(snap.BestAsk(), 10),
		int64(bookTTL / time.Second),
	}
	if err := oc.orderbookUpdate.Run(ctx, oc.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.MarketID, err)
	}
	return nil
}

// GetBBO returns the best bid and ask in ticks, 0 for an empty side.
// It returns domain.ErrNotFound if no snapshot was ever stored.
func (oc *OrderbookCache) GetBBO(ctx context.Context, marketID string) (bestBid, bestAsk int64, err error) {
	vals, err := oc.rdb.HGetAll(ctx, bookBBOKey(marketID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	return parseBBO(vals)
}

func parseBBO(vals map[string]string) (bid, ask int64, err error) {
	if s, ok := vals["bid"]; ok {
		if bid, err = strconv.ParseInt(s, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("redis: parse bid %q: %w", s, err)
		}
	}
	if s, ok := vals["ask"]; ok {
		if ask, err = strconv.ParseInt(s, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("redis: parse ask %q: %w", s, err)
		}
	}
	return bid, ask, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
