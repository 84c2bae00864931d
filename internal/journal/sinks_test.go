package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

type memCaches struct {
	markets map[string]domain.Market
	prices  map[string][2]float64
	snaps   map[string]domain.OrderbookSnapshot
}

func newMemCaches() *memCaches {
	return &memCaches{
		markets: map[string]domain.Market{},
		prices:  map[string][2]float64{},
		snaps:   map[string]domain.OrderbookSnapshot{},
	}
}

func (c *memCaches) Set(_ context.Context, m domain.Market) error {
	c.markets[m.ID] = m
	return nil
}

func (c *memCaches) SetPrices(_ context.Context, id string, yes, no float64, _ time.Time) error {
	c.prices[id] = [2]float64{yes, no}
	return nil
}

func (c *memCaches) GetPrices(_ context.Context, id string) (float64, float64, time.Time, error) {
	p := c.prices[id]
	return p[0], p[1], time.Time{}, nil
}

func (c *memCaches) SetSnapshot(_ context.Context, s domain.OrderbookSnapshot) error {
	c.snaps[s.MarketID] = s
	return nil
}

func (c *memCaches) GetBBO(_ context.Context, id string) (int64, int64, error) {
	s := c.snaps[id]
	return s.BestBid(), s.BestAsk(), nil
}

func TestCacheSink(t *testing.T) {
	c := newMemCaches()
	sink := NewCacheSink(c, c, c)

	snap := domain.OrderbookSnapshot{MarketID: "clob", Seq: 3, Bids: []domain.PriceLevel{{Price: 40, Quantity: 1}}}
	require.NoError(t, sink.Handle(context.Background(), domain.Batch{
		Markets: []domain.Market{
			{ID: "amm", Mode: domain.MarketModeAMM, Liquidity: 100},
			{ID: "clob", Mode: domain.MarketModeCLOB, LastTradePrice: 65},
		},
		Events: []domain.Event{{Type: domain.EventBookUpdated, MarketID: "clob", Payload: snap}},
	}))

	assert.Len(t, c.markets, 2)
	assert.InDelta(t, 0.5, c.prices["amm"][0], 1e-12)
	assert.InDelta(t, 0.65, c.prices["clob"][0], 1e-12)
	assert.InDelta(t, 0.35, c.prices["clob"][1], 1e-12)
	assert.Equal(t, int64(40), c.snaps["clob"].BestBid())
}

func TestMarketPricesSkipsUntradedBook(t *testing.T) {
	_, _, ok := MarketPrices(domain.Market{Mode: domain.MarketModeCLOB})
	assert.False(t, ok)
}

type fakeArchiver struct{ archived []string }

func (f *fakeArchiver) ArchiveSettlement(_ context.Context, m domain.Market) (string, error) {
	f.archived = append(f.archived, m.ID)
	return "settlements/" + m.ID, nil
}

func TestArchiveSinkOnlySettledMarkets(t *testing.T) {
	a := &fakeArchiver{}
	sink := NewArchiveSink(a, discardLogger())
	require.NoError(t, sink.Handle(context.Background(), domain.Batch{Markets: []domain.Market{
		{ID: "open", Status: domain.MarketStatusOpen},
		{ID: "done", Status: domain.MarketStatusResolved},
		{ID: "void", Status: domain.MarketStatusCancelled},
	}}))
	assert.Equal(t, []string{"done", "void"}, a.archived)
}

type fakePublisher struct{ types []domain.EventType }

func (f *fakePublisher) PublishEvent(_ context.Context, e domain.Event) error {
	f.types = append(f.types, e.Type)
	return nil
}

func TestEventSinkPreservesOrder(t *testing.T) {
	p := &fakePublisher{}
	sink := NewEventSink("bus", p)
	require.NoError(t, sink.Handle(context.Background(), domain.Batch{Events: []domain.Event{
		{Type: domain.EventOrderPlaced}, {Type: domain.EventFill}, {Type: domain.EventBookUpdated},
	}}))
	assert.Equal(t, []domain.EventType{domain.EventOrderPlaced, domain.EventFill, domain.EventBookUpdated}, p.types)
	assert.Equal(t, "bus", sink.Name())
}
