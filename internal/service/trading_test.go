package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/store/memory"
)

const (
	unit  = domain.MicrosPerUnit
	share = domain.MicrosPerShare
)

// syncJournal persists every batch as soon as it is enqueued.
type syncJournal struct {
	mu      sync.Mutex
	store   *memory.Store
	batches []domain.Batch
}

func (j *syncJournal) Enqueue(b domain.Batch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.batches = append(j.batches, b)
	_ = j.store.CommitBatch(context.Background(), b)
}

func (j *syncJournal) fills() []domain.Fill {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.Fill
	for _, b := range j.batches {
		out = append(out, b.Fills...)
	}
	return out
}

func (j *syncJournal) events(typ domain.EventType) []domain.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.Event
	for _, b := range j.batches {
		for _, e := range b.Events {
			if e.Type == typ {
				out = append(out, e)
			}
		}
	}
	return out
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	journal *syncJournal
	svc     *Trading
	now     time.Time
	ids     int
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		now:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.journal = &syncJournal{store: f.store}
	f.svc = f.open()
	return f
}

// open builds a service over the fixture's store, as a restarted process
// would.
func (f *fixture) open() *Trading {
	return NewTrading(DefaultConfig(), f.store.Stores(), f.journal, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return f.now }),
		WithIDs(func() string {
			f.ids++
			return fmt.Sprintf("id-%d", f.ids)
		}),
	)
}

func (f *fixture) market(id string, mode domain.MarketMode) domain.Market {
	f.t.Helper()
	m, err := f.svc.CreateMarket(f.ctx, CreateMarketRequest{ID: id, Question: "Will it rain?", Mode: mode, Liquidity: 100})
	require.NoError(f.t, err)
	return m
}

func (f *fixture) deposit(user string, units int64) {
	f.t.Helper()
	_, err := f.svc.Deposit(f.ctx, user, units*unit, "")
	require.NoError(f.t, err)
}

func (f *fixture) order(user, market string, intent domain.Intent, price, shares int64) PlaceOrderResult {
	f.t.Helper()
	res, err := f.svc.PlaceOrder(f.ctx, PlaceOrderRequest{
		UserID:   user,
		MarketID: market,
		Intent:   intent,
		Price:    price,
		Quantity: shares * share,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) available(user string) int64 {
	return f.svc.Ledger().Balance(user).Available
}

func TestCreateMarketFundsSubsidy(t *testing.T) {
	f := newFixture(t)
	m := f.market("m1", domain.MarketModeAMM)

	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	want := int64(math.Ceil(100 * math.Ln2 * float64(unit)))
	assert.Equal(t, want, f.available(domain.MarketAccount("m1")))
	assert.Equal(t, -want, f.available(domain.PlatformAccount))

	_, err := f.svc.CreateMarket(f.ctx, CreateMarketRequest{ID: "m1", Question: "again", Mode: domain.MarketModeAMM})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = f.svc.CreateMarket(f.ctx, CreateMarketRequest{ID: "m2", Question: "q", Mode: "dutch"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := f.store.Stores().Markets.GetByID(f.ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", stored.ID)
	assert.Len(t, f.journal.events(domain.EventMarketCreated), 1)
}

func TestBuyMatchesClosedForm(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeAMM)
	f.deposit("alice", 1000)

	res, err := f.svc.Buy(f.ctx, BuyRequest{UserID: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Amount: 100 * unit})
	require.NoError(t, err)

	net := 98.0
	want := 100 * math.Log(2*math.Exp(net/100)-1)
	assert.InDelta(t, want, float64(res.SharesAcquired)/float64(share), 1e-4)
	assert.Equal(t, 2*unit, res.Fee)
	assert.Greater(t, res.NewPriceYes, 0.5)
	assert.InDelta(t, 1.0, res.NewPriceYes+res.NewPriceNo, 1e-9)
	assert.Equal(t, 900*unit, res.NewBalance)

	pos := f.svc.Ledger().Position("alice", "m1", domain.OutcomeYes)
	assert.Equal(t, res.SharesAcquired, pos.Shares)
	assert.Equal(t, 100*unit, pos.CostBasis)

	trades, err := f.svc.ListTrades(f.ctx, "m1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeSideBuy, trades[0].Side)
}

func TestBuyThenSellLosesFee(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeAMM)
	f.deposit("alice", 100)

	buy, err := f.svc.Buy(f.ctx, BuyRequest{UserID: "alice", MarketID: "m1", Outcome: domain.OutcomeNo, Amount: 50 * unit})
	require.NoError(t, err)
	sell, err := f.svc.Sell(f.ctx, SellRequest{UserID: "alice", MarketID: "m1", Outcome: domain.OutcomeNo, Shares: buy.SharesAcquired})
	require.NoError(t, err)

	assert.Positive(t, sell.Fee)
	assert.Less(t, sell.NewBalance, 100*unit)
	assert.Equal(t, f.available("alice"), sell.NewBalance)
	assert.Zero(t, f.svc.Ledger().Position("alice", "m1", domain.OutcomeNo).Shares)
	assert.InDelta(t, 0.5, sell.NewPriceYes, 1e-6)

	_, err = f.svc.Sell(f.ctx, SellRequest{UserID: "alice", MarketID: "m1", Outcome: domain.OutcomeNo, Shares: share})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestBuyReplayReturnsOriginalResponse(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeAMM)
	f.deposit("alice", 100)

	req := BuyRequest{UserID: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Amount: 10 * unit, IdempotencyKey: "k1"}
	first, err := f.svc.Buy(f.ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Buy(f.ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 90*unit, f.available("alice"))
}

func TestBuyRejections(t *testing.T) {
	f := newFixture(t)
	f.market("amm", domain.MarketModeAMM)
	f.market("book", domain.MarketModeCLOB)
	f.deposit("alice", 5)

	tests := []struct {
		name string
		req  BuyRequest
		want error
	}{
		{"unknown market", BuyRequest{UserID: "alice", MarketID: "nope", Outcome: domain.OutcomeYes, Amount: unit}, domain.ErrNotFound},
		{"clob market", BuyRequest{UserID: "alice", MarketID: "book", Outcome: domain.OutcomeYes, Amount: unit}, domain.ErrValidation},
		{"bad outcome", BuyRequest{UserID: "alice", MarketID: "amm", Outcome: "maybe", Amount: unit}, domain.ErrValidation},
		{"zero amount", BuyRequest{UserID: "alice", MarketID: "amm", Outcome: domain.OutcomeYes}, domain.ErrValidation},
		{"too poor", BuyRequest{UserID: "alice", MarketID: "amm", Outcome: domain.OutcomeYes, Amount: 6 * unit}, domain.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Buy(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 5*unit, f.available("alice"))

	_, err := f.svc.CloseMarket(f.ctx, "amm")
	require.NoError(t, err)
	_, err = f.svc.Buy(f.ctx, BuyRequest{UserID: "alice", MarketID: "amm", Outcome: domain.OutcomeYes, Amount: unit})
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestReservedAccountsCannotTrade(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeAMM)
	m2 := f.market("m2", domain.MarketModeAMM)
	f.market("book", domain.MarketModeCLOB)
	platform := f.available(domain.PlatformAccount)
	pool := f.available(m2.Account())

	for _, user := range []string{domain.PlatformAccount, m2.Account()} {
		_, err := f.svc.Buy(f.ctx, BuyRequest{UserID: user, MarketID: "m1", Outcome: domain.OutcomeYes, Amount: 1_000_000 * unit})
		assert.ErrorIs(t, err, domain.ErrValidation, user)
		_, err = f.svc.Sell(f.ctx, SellRequest{UserID: user, MarketID: "m1", Outcome: domain.OutcomeYes, Shares: share})
		assert.ErrorIs(t, err, domain.ErrValidation, user)
		_, err = f.svc.PlaceOrder(f.ctx, PlaceOrderRequest{UserID: user, MarketID: "book", Intent: domain.IntentBuyYes, Price: 50, Quantity: share})
		assert.ErrorIs(t, err, domain.ErrValidation, user)
		_, err = f.svc.CancelOrder(f.ctx, user, "id-1")
		assert.ErrorIs(t, err, domain.ErrValidation, user)
	}
	assert.Equal(t, platform, f.available(domain.PlatformAccount))
	assert.Equal(t, pool, f.available(m2.Account()))
}

func TestOversizedAmountsAreRejected(t *testing.T) {
	f := newFixture(t)
	f.market("amm", domain.MarketModeAMM)
	f.market("book", domain.MarketModeCLOB)
	f.deposit("alice", 1)
	f.deposit("bob", 1)

	_, err := f.svc.PlaceOrder(f.ctx, PlaceOrderRequest{UserID: "alice", MarketID: "book", Intent: domain.IntentBuyYes, Price: 99, Quantity: 186330748219290000})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Buy(f.ctx, BuyRequest{UserID: "alice", MarketID: "amm", Outcome: domain.OutcomeYes, Amount: domain.MaxAmount + 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Deposit(f.ctx, "alice", domain.MaxAmount+1, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, unit, f.available("alice"))

	res := f.order("bob", "book", domain.IntentBuyNo, 1, 1)
	assert.Equal(t, domain.OrderStatusOpen, res.Status)
}

func TestPlaceOrderMint(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.deposit("bob", 100)

	a := f.order("alice", "m1", domain.IntentBuyYes, 60, 10)
	assert.Equal(t, domain.OrderStatusOpen, a.Status)
	b := f.order("bob", "m1", domain.IntentBuyNo, 40, 10)
	assert.Equal(t, domain.OrderStatusFilled, b.Status)
	assert.Equal(t, 1, b.FillsCount)
	assert.Equal(t, 10*share, b.FilledQuantity)

	fills := f.journal.fills()
	require.Len(t, fills, 1)
	assert.Equal(t, domain.FillKindMint, fills[0].Kind)

	assert.Equal(t, 94*unit, f.available("alice"))
	assert.Equal(t, 96*unit, f.available("bob"))
	assert.Equal(t, 10*share, f.svc.Ledger().Position("alice", "m1", domain.OutcomeYes).Shares)
	assert.Equal(t, 10*share, f.svc.Ledger().Position("bob", "m1", domain.OutcomeNo).Shares)
	assert.Equal(t, 10*unit, f.available(domain.MarketAccount("m1")))

	m, err := f.svc.GetMarket(f.ctx, "m1")
	require.NoError(t, err)
	assert.EqualValues(t, 60, m.LastTradePrice)
}

func TestPlaceOrderPriceTimePriority(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.deposit("bob", 100)
	f.deposit("carol", 100)

	f.order("alice", "m1", domain.IntentBuyYes, 60, 10)
	f.now = f.now.Add(time.Second)
	f.order("bob", "m1", domain.IntentBuyYes, 62, 10)
	res := f.order("carol", "m1", domain.IntentBuyNo, 45, 20)
	assert.Equal(t, 2, res.FillsCount)

	fills := f.journal.fills()
	require.Len(t, fills, 2)
	assert.Equal(t, "bob", fills[0].BidUserID)
	assert.EqualValues(t, 62, fills[0].Price)
	assert.Equal(t, "alice", fills[1].BidUserID)
	assert.EqualValues(t, 60, fills[1].Price)

	// 10 at 0.38 and 10 at 0.40 on the NO side, the rest of the hold released.
	assert.Equal(t, 100*unit-7_800_000, f.available("carol"))
	assert.Zero(t, f.svc.Ledger().Balance("carol").Held)
}

func TestPlaceOrderTimeInForce(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.deposit("bob", 100)
	f.order("alice", "m1", domain.IntentBuyYes, 50, 5)

	_, err := f.svc.PlaceOrder(f.ctx, PlaceOrderRequest{
		UserID: "bob", MarketID: "m1", Intent: domain.IntentBuyNo, Price: 50,
		Quantity: 10 * share, TimeInForce: domain.TimeInForceFOK,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 100*unit, f.available("bob"))

	res, err := f.svc.PlaceOrder(f.ctx, PlaceOrderRequest{
		UserID: "bob", MarketID: "m1", Intent: domain.IntentBuyNo, Price: 50,
		Quantity: 10 * share, TimeInForce: domain.TimeInForceFAK,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)
	assert.Equal(t, 5*share, res.FilledQuantity)
	assert.Equal(t, 5*share, res.Remaining)
	assert.Equal(t, 100*unit-2_500_000, f.available("bob"))
	assert.Zero(t, f.svc.Ledger().Balance("bob").Held)

	book, err := f.svc.GetBook(f.ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeCLOB)
	f.deposit("alice", 1)

	tests := []struct {
		name string
		req  PlaceOrderRequest
		want error
	}{
		{"price zero", PlaceOrderRequest{UserID: "alice", MarketID: "m1", Intent: domain.IntentBuyYes, Price: 0, Quantity: share}, domain.ErrValidation},
		{"price one", PlaceOrderRequest{UserID: "alice", MarketID: "m1", Intent: domain.IntentBuyYes, Price: 100, Quantity: share}, domain.ErrValidation},
		{"odd lot", PlaceOrderRequest{UserID: "alice", MarketID: "m1", Intent: domain.IntentBuyYes, Price: 50, Quantity: 1}, domain.ErrValidation},
		{"bad intent", PlaceOrderRequest{UserID: "alice", MarketID: "m1", Intent: "hold", Price: 50, Quantity: share}, domain.ErrValidation},
		{"no funds", PlaceOrderRequest{UserID: "alice", MarketID: "m1", Intent: domain.IntentBuyYes, Price: 50, Quantity: 10 * share}, domain.ErrInsufficientBalance},
		{"no shares", PlaceOrderRequest{UserID: "alice", MarketID: "m1", Intent: domain.IntentSellYes, Price: 50, Quantity: share}, domain.ErrInsufficientShares},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	open, err := f.svc.ListOpenOrders(f.ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.deposit("bob", 100)

	a := f.order("alice", "m1", domain.IntentBuyYes, 40, 10)
	assert.Equal(t, 4*unit, f.svc.Ledger().Balance("alice").Held)

	_, err := f.svc.CancelOrder(f.ctx, "bob", a.OrderID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = f.svc.CancelOrder(f.ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	res, err := f.svc.CancelOrder(f.ctx, "alice", a.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 10*share, res.CancelledQuantity)
	assert.Equal(t, 100*unit, f.available("alice"))
	assert.Zero(t, f.svc.Ledger().Balance("alice").Held)

	again, err := f.svc.CancelOrder(f.ctx, "alice", a.OrderID)
	require.NoError(t, err)
	assert.Zero(t, again.CancelledQuantity)

	stored, err := f.store.Stores().Orders.GetByID(f.ctx, a.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
}

func TestCancelFilledOrderIsNoop(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.deposit("bob", 100)

	a := f.order("alice", "m1", domain.IntentBuyYes, 50, 10)
	f.order("bob", "m1", domain.IntentBuyNo, 50, 10)

	res, err := f.svc.CancelOrder(f.ctx, "alice", a.OrderID)
	require.NoError(t, err)
	assert.Zero(t, res.CancelledQuantity)
	assert.Equal(t, 10*share, f.svc.Ledger().Position("alice", "m1", domain.OutcomeYes).Shares)
}

// quoteCache is an in-memory PriceCache and OrderbookCache.
type quoteCache struct {
	prices map[string]cachedQuote
	bbo    map[string][2]int64
	err    error
}

type cachedQuote struct {
	yes, no float64
	ts      time.Time
}

func newQuoteCache() *quoteCache {
	return &quoteCache{prices: map[string]cachedQuote{}, bbo: map[string][2]int64{}}
}

func (c *quoteCache) SetPrices(_ context.Context, id string, yes, no float64, ts time.Time) error {
	c.prices[id] = cachedQuote{yes: yes, no: no, ts: ts}
	return nil
}

func (c *quoteCache) GetPrices(_ context.Context, id string) (float64, float64, time.Time, error) {
	if c.err != nil {
		return 0, 0, time.Time{}, c.err
	}
	q, ok := c.prices[id]
	if !ok {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}
	return q.yes, q.no, q.ts, nil
}

func (c *quoteCache) SetSnapshot(_ context.Context, s domain.OrderbookSnapshot) error {
	c.bbo[s.MarketID] = [2]int64{s.BestBid(), s.BestAsk()}
	return nil
}

func (c *quoteCache) GetBBO(_ context.Context, id string) (int64, int64, error) {
	b, ok := c.bbo[id]
	if !ok {
		return 0, 0, domain.ErrNotFound
	}
	return b[0], b[1], nil
}

func TestPricesFromMemory(t *testing.T) {
	f := newFixture(t)
	f.market("amm", domain.MarketModeAMM)
	f.market("clob", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.order("alice", "clob", domain.IntentBuyYes, 40, 10)

	v, err := f.svc.Prices(f.ctx, "amm")
	require.NoError(t, err)
	assert.True(t, v.Priced)
	assert.False(t, v.Cached)
	assert.InDelta(t, 0.5, v.Yes, 1e-12)
	assert.InDelta(t, 0.5, v.No, 1e-12)

	v, err = f.svc.Prices(f.ctx, "clob")
	require.NoError(t, err)
	assert.False(t, v.Priced)
	assert.Equal(t, int64(40), v.BestBid)
	assert.Zero(t, v.BestAsk)

	_, err = f.svc.Prices(f.ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPricesPreferFreshCache(t *testing.T) {
	f := newFixture(t)
	f.market("amm", domain.MarketModeAMM)
	f.market("clob", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.order("alice", "clob", domain.IntentBuyYes, 40, 10)

	c := newQuoteCache()
	WithCaches(c, c)(f.svc)

	v, err := f.svc.Prices(f.ctx, "amm")
	require.NoError(t, err)
	assert.False(t, v.Cached, "empty cache")

	c.prices["amm"] = cachedQuote{yes: 0.7, no: 0.3, ts: f.now}
	v, err = f.svc.Prices(f.ctx, "amm")
	require.NoError(t, err)
	assert.True(t, v.Cached)
	assert.InDelta(t, 0.7, v.Yes, 1e-12)

	c.prices["amm"] = cachedQuote{yes: 0.7, no: 0.3, ts: f.now.Add(-time.Second)}
	v, err = f.svc.Prices(f.ctx, "amm")
	require.NoError(t, err)
	assert.False(t, v.Cached, "entry older than the market")
	assert.InDelta(t, 0.5, v.Yes, 1e-12)

	c.prices["clob"] = cachedQuote{yes: 0.4, no: 0.6, ts: f.now}
	v, err = f.svc.Prices(f.ctx, "clob")
	require.NoError(t, err)
	assert.False(t, v.Cached, "prices without a cached BBO")
	assert.Equal(t, int64(40), v.BestBid)

	c.bbo["clob"] = [2]int64{41, 60}
	v, err = f.svc.Prices(f.ctx, "clob")
	require.NoError(t, err)
	assert.True(t, v.Cached)
	assert.Equal(t, int64(41), v.BestBid)
	assert.Equal(t, int64(60), v.BestAsk)

	c.err = errors.New("connection refused")
	v, err = f.svc.Prices(f.ctx, "clob")
	require.NoError(t, err)
	assert.False(t, v.Cached)
	assert.Equal(t, int64(40), v.BestBid)
}

func TestResolveClobMarket(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.deposit("bob", 100)
	f.order("alice", "m1", domain.IntentBuyYes, 50, 25)
	f.order("bob", "m1", domain.IntentBuyNo, 50, 25)
	rest := f.order("bob", "m1", domain.IntentBuyNo, 30, 10)

	m, err := f.svc.Resolve(f.ctx, "m1", domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeYes, m.Resolution)

	assert.Equal(t, 100*unit-12_500_000+25*unit, f.available("alice"))
	assert.Equal(t, 100*unit-12_500_000, f.available("bob"))
	assert.Zero(t, f.svc.Ledger().Position("bob", "m1", domain.OutcomeNo).Shares)
	assert.Zero(t, f.available(domain.MarketAccount("m1")))
	assert.Equal(t, 200*unit, f.svc.Ledger().Supply())

	stored, err := f.store.Stores().Orders.GetByID(f.ctx, rest.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)

	again, err := f.svc.Resolve(f.ctx, "m1", domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, m, again)
	_, err = f.svc.Resolve(f.ctx, "m1", domain.OutcomeNo)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.CancelMarket(f.ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Len(t, f.journal.events(domain.EventMarketResolved), 1)
}

func TestCancelMarketRefundsCostBasis(t *testing.T) {
	f := newFixture(t)
	f.market("m1", domain.MarketModeAMM)
	f.deposit("alice", 100)
	f.deposit("bob", 100)

	_, err := f.svc.Buy(f.ctx, BuyRequest{UserID: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Amount: 40 * unit})
	require.NoError(t, err)
	_, err = f.svc.Buy(f.ctx, BuyRequest{UserID: "bob", MarketID: "m1", Outcome: domain.OutcomeYes, Amount: 60 * unit})
	require.NoError(t, err)

	m, err := f.svc.CancelMarket(f.ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusCancelled, m.Status)
	assert.Equal(t, 100*unit, f.available("alice"))
	assert.Equal(t, 100*unit, f.available("bob"))
	assert.Empty(t, f.svc.Ledger().AccountPositions("alice"))
}

func TestSweepExpiredClosesMarkets(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateMarket(f.ctx, CreateMarketRequest{
		ID: "m1", Question: "q", Mode: domain.MarketModeCLOB, CloseTime: f.now.Add(time.Hour),
	})
	require.NoError(t, err)
	f.market("m2", domain.MarketModeCLOB)
	f.deposit("alice", 10)
	f.order("alice", "m1", domain.IntentBuyYes, 50, 10)

	n, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(time.Hour)
	n, err = f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m1, err := f.svc.GetMarket(f.ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusTradingClosed, m1.Status)
	assert.Equal(t, 10*unit, f.available("alice"))
	assert.Len(t, f.svc.ListMarkets(f.ctx, domain.MarketStatusOpen), 1)
}

func TestDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)

	bal, err := f.svc.Deposit(f.ctx, "alice", 10*unit, "d1")
	require.NoError(t, err)
	assert.Equal(t, 10*unit, bal.Available)
	again, err := f.svc.Deposit(f.ctx, "alice", 10*unit, "d1")
	require.NoError(t, err)
	assert.Equal(t, bal, again)

	_, err = f.svc.Withdraw(f.ctx, "alice", 11*unit, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	bal, err = f.svc.Withdraw(f.ctx, "alice", 4*unit, "")
	require.NoError(t, err)
	assert.Equal(t, 6*unit, bal.Available)

	_, err = f.svc.Deposit(f.ctx, domain.PlatformAccount, unit, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Deposit(f.ctx, domain.MarketAccount("m1"), unit, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	audit, err := f.store.Stores().Audit.List(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestConcurrentDepositRetriesShareOneResponse(t *testing.T) {
	f := newFixture(t)

	const n = 16
	var wg sync.WaitGroup
	results := make([]domain.Balance, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Deposit(f.ctx, "alice", 7*unit, "retry-me")
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 7*unit, results[i].Available)
	}
	assert.Equal(t, 7*unit, f.available("alice"))
}

func TestRestoreRebuildsState(t *testing.T) {
	f := newFixture(t)
	f.market("amm", domain.MarketModeAMM)
	f.market("book", domain.MarketModeCLOB)
	f.deposit("alice", 100)
	f.deposit("bob", 100)

	_, err := f.svc.Buy(f.ctx, BuyRequest{UserID: "alice", MarketID: "amm", Outcome: domain.OutcomeYes, Amount: 10 * unit, IdempotencyKey: "k1"})
	require.NoError(t, err)
	f.order("alice", "book", domain.IntentBuyYes, 55, 10)
	f.order("bob", "book", domain.IntentBuyNo, 45, 4)
	resting := f.order("bob", "book", domain.IntentSellNo, 60, 2)

	wantBook, err := f.svc.GetBook(f.ctx, "book")
	require.NoError(t, err)
	wantAlice, err := f.svc.Account(f.ctx, "alice")
	require.NoError(t, err)
	wantAMM, err := f.svc.GetMarket(f.ctx, "amm")
	require.NoError(t, err)

	restarted := f.open()
	require.NoError(t, restarted.Restore(f.ctx))

	gotBook, err := restarted.GetBook(f.ctx, "book")
	require.NoError(t, err)
	// Seq only has to stay monotonic across a restart.
	if diff := cmp.Diff(wantBook, gotBook, cmpopts.IgnoreFields(BookView{}, "Seq")); diff != "" {
		t.Errorf("restored book mismatch (-want +got):\n%s", diff)
	}
	gotAlice, err := restarted.Account(f.ctx, "alice")
	require.NoError(t, err)
	if diff := cmp.Diff(wantAlice, gotAlice); diff != "" {
		t.Errorf("restored account mismatch (-want +got):\n%s", diff)
	}
	gotAMM, err := restarted.GetMarket(f.ctx, "amm")
	require.NoError(t, err)
	assert.Equal(t, wantAMM.QYes, gotAMM.QYes)
	assert.Equal(t, f.svc.Ledger().Supply(), restarted.Ledger().Supply())

	_, err = restarted.Buy(f.ctx, BuyRequest{UserID: "alice", MarketID: "amm", Outcome: domain.OutcomeYes, Amount: 10 * unit, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	res, err := restarted.CancelOrder(f.ctx, "bob", resting.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 2*share, res.CancelledQuantity)
}
