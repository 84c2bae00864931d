package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

func TestParseBBO(t *testing.T) {
	bid, ask, err := parseBBO(map[string]string{"bid": "41", "ask": "0"})
	require.NoError(t, err)
	assert.Equal(t, int64(41), bid)
	assert.Zero(t, ask)

	_, _, err = parseBBO(map[string]string{"bid": "x"})
	assert.Error(t, err)
}

func TestParsePrices(t *testing.T) {
	ts := time.Unix(0, 1_700_000_000_000_000_000)
	yes, no, got, err := parsePrices("m1", map[string]string{
		"yes": "0.6", "no": "0.4", "ts": "1700000000000000000",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, yes, 1e-12)
	assert.InDelta(t, 0.4, no, 1e-12)
	assert.True(t, ts.Equal(got))

	_, _, _, err = parsePrices("m1", map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketExpiry(t *testing.T) {
	assert.Equal(t, marketTTL, marketExpiry(domain.Market{Status: domain.MarketStatusOpen}))
	assert.Equal(t, settledMarketTTL, marketExpiry(domain.Market{Status: domain.MarketStatusResolved}))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "book:m1:snap", bookSnapKey("m1"))
	assert.Equal(t, "book:m1:bbo", bookBBOKey("m1"))
	assert.Equal(t, "lock:sweeper", lockKey("sweeper"))
	assert.Equal(t, "ratelimit:u1", rateLimitKey("u1"))
	assert.True(t, hasPattern("book:*"))
	assert.False(t, hasPattern(domain.ChannelMarkets))
}
