package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

func order(id string, intent domain.Intent, price, qty int64) *domain.Order {
	return &domain.Order{
		ID:         id,
		Intent:     intent,
		Side:       intent.BookSide(),
		LimitPrice: price,
		BookPrice:  intent.BookPrice(price),
		Quantity:   qty,
		Status:     domain.OrderStatusOpen,
	}
}

func TestBestPricesAndFIFO(t *testing.T) {
	b := New("m1")
	require.NoError(t, b.Add(order("b1", domain.IntentBuyYes, 60, 100)))
	require.NoError(t, b.Add(order("b2", domain.IntentBuyYes, 62, 100)))
	require.NoError(t, b.Add(order("b3", domain.IntentBuyYes, 62, 50)))
	require.NoError(t, b.Add(order("a1", domain.IntentBuyNo, 30, 10))) // ask at 70

	bid, ok := b.BestPrice(domain.SideBid)
	require.True(t, ok)
	assert.Equal(t, int64(62), bid)
	ask, ok := b.BestPrice(domain.SideAsk)
	require.True(t, ok)
	assert.Equal(t, int64(70), ask)

	best, _ := b.Best(domain.SideBid)
	assert.Equal(t, "b2", best.ID)

	b.Fill(best, 100, time.Now())
	assert.Equal(t, domain.OrderStatusFilled, best.Status)
	best, _ = b.Best(domain.SideBid)
	assert.Equal(t, "b3", best.ID)

	_, ok = b.Remove("b3")
	require.True(t, ok)
	bid, _ = b.BestPrice(domain.SideBid)
	assert.Equal(t, int64(60), bid)
	assert.Equal(t, 2, b.Len())
}

func TestAddRejectsDuplicatesAndBadPrices(t *testing.T) {
	b := New("m1")
	require.NoError(t, b.Add(order("o1", domain.IntentSellYes, 55, 10)))
	assert.ErrorIs(t, b.Add(order("o1", domain.IntentSellYes, 55, 10)), domain.ErrAlreadyExists)
	assert.ErrorIs(t, b.Add(order("o2", domain.IntentSellYes, 100, 10)), domain.ErrValidation)
}

func TestSnapshotAggregatesLevels(t *testing.T) {
	b := New("m1")
	require.NoError(t, b.Add(order("b1", domain.IntentBuyYes, 40, 30)))
	require.NoError(t, b.Add(order("b2", domain.IntentSellNo, 60, 20))) // bid at 40
	require.NoError(t, b.Add(order("b3", domain.IntentBuyYes, 35, 5)))
	require.NoError(t, b.Add(order("a1", domain.IntentSellYes, 45, 7)))

	snap := b.Snapshot(0)
	assert.Equal(t, []domain.PriceLevel{
		{Price: 40, Quantity: 50, Orders: 2},
		{Price: 35, Quantity: 5, Orders: 1},
	}, snap.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 45, Quantity: 7, Orders: 1}}, snap.Asks)

	assert.Len(t, b.Snapshot(1).Bids, 1)
}

func TestMatchableAndCrosses(t *testing.T) {
	b := New("m1")
	require.NoError(t, b.Add(order("a1", domain.IntentSellYes, 50, 10)))
	require.NoError(t, b.Add(order("a2", domain.IntentSellYes, 52, 10)))
	require.NoError(t, b.Add(order("a3", domain.IntentSellYes, 60, 10)))

	assert.True(t, b.Crosses(domain.SideBid, 50))
	assert.False(t, b.Crosses(domain.SideBid, 49))
	assert.Equal(t, int64(20), b.Matchable(domain.SideBid, 55, 100))
	assert.Equal(t, int64(15), b.Matchable(domain.SideBid, 55, 15))
	assert.Zero(t, b.Matchable(domain.SideAsk, 1, 100))
}

func TestOrdersAreReturnedInArrivalOrder(t *testing.T) {
	b := New("m1")
	for _, id := range []string{"x", "y", "z"} {
		require.NoError(t, b.Add(order(id, domain.IntentBuyYes, 10, 1)))
	}
	var ids []string
	for _, o := range b.Orders() {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"x", "y", "z"}, ids)
}

func TestWalkVisitsInPriority(t *testing.T) {
	b := New("m1")
	require.NoError(t, b.Add(order("b1", domain.IntentBuyYes, 60, 10)))
	require.NoError(t, b.Add(order("b2", domain.IntentBuyYes, 62, 10)))
	require.NoError(t, b.Add(order("b3", domain.IntentSellNo, 38, 10))) // bid at 62, later
	require.NoError(t, b.Add(order("b4", domain.IntentBuyYes, 50, 10)))

	var ids []string
	b.Walk(domain.SideAsk, 55, func(o *domain.Order) bool {
		ids = append(ids, o.ID)
		return true
	})
	assert.Equal(t, []string{"b2", "b3", "b1"}, ids)
}
