// Package orderbook keeps the resting limit orders of one CLOB market on a
// single YES price axis.
//
// Each side has one FIFO queue per price tick (1..99). The best bid and
// best ask are cached and rescanned only when their level empties.
package orderbook

import (
	"container/list"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

const levels = domain.MaxPriceTicks + 1

type level struct {
	orders list.List // of *domain.Order, oldest first
	qty    int64
}

// Book is not safe for concurrent use; callers hold the market lock.
type Book struct {
	marketID  string
	bids      [levels]level
	asks      [levels]level
	bestBid   int64 // 0 when empty
	bestAsk   int64 // levels when empty
	index     map[string]*list.Element
	seq       uint64
	lastTrade int64
}

// New creates an empty book.
func New(marketID string) *Book {
	b := &Book{
		marketID: marketID,
		bestAsk:  levels,
		index:    make(map[string]*list.Element),
	}
	for p := range b.bids {
		b.bids[p].orders.Init()
		b.asks[p].orders.Init()
	}
	return b
}

// MarketID returns the market the book belongs to.
func (b *Book) MarketID() string { return b.marketID }

// NextSeq returns the next arrival sequence number.
func (b *Book) NextSeq() uint64 {
	b.seq++
	return b.seq
}

// Len returns the number of resting orders.
func (b *Book) Len() int { return len(b.index) }

// LastTrade returns the last execution price, 0 if none.
func (b *Book) LastTrade() int64 { return b.lastTrade }

// SetLastTrade records an execution price.
func (b *Book) SetLastTrade(p int64) { b.lastTrade = p }

// Add rests an order at the back of its price level. Orders without a
// sequence number are assigned the next one.
func (b *Book) Add(o *domain.Order) error {
	if o.BookPrice < domain.MinPriceTicks || o.BookPrice > domain.MaxPriceTicks {
		return fmt.Errorf("orderbook: order %s: %w", o.ID, domain.Invalid("price", "book price %d outside 1..99", o.BookPrice))
	}
	if o.Remaining() <= 0 {
		return fmt.Errorf("orderbook: order %s has nothing to rest", o.ID)
	}
	if _, ok := b.index[o.ID]; ok {
		return fmt.Errorf("orderbook: order %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	if o.Seq == 0 {
		o.Seq = b.NextSeq()
	} else if o.Seq > b.seq {
		b.seq = o.Seq
	}

	lv := b.level(o.Side, o.BookPrice)
	b.index[o.ID] = lv.orders.PushBack(o)
	lv.qty += o.Remaining()
	switch o.Side {
	case domain.SideBid:
		if o.BookPrice > b.bestBid {
			b.bestBid = o.BookPrice
		}
	case domain.SideAsk:
		if o.BookPrice < b.bestAsk {
			b.bestAsk = o.BookPrice
		}
	}
	return nil
}

// Get returns a resting order.
func (b *Book) Get(id string) (*domain.Order, bool) {
	el, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*domain.Order), true
}

// Remove takes an order off the book.
func (b *Book) Remove(id string) (*domain.Order, bool) {
	el, ok := b.index[id]
	if !ok {
		return nil, false
	}
	o := el.Value.(*domain.Order)
	lv := b.level(o.Side, o.BookPrice)
	lv.orders.Remove(el)
	lv.qty -= o.Remaining()
	delete(b.index, id)
	b.refreshBest(o.Side)
	return o, true
}

// Fill records qty executed against a resting order and removes the order
// once nothing remains.
func (b *Book) Fill(o *domain.Order, qty int64, at time.Time) {
	lv := b.level(o.Side, o.BookPrice)
	lv.qty -= qty
	o.Filled += qty
	o.Status = o.DeriveStatus()
	o.UpdatedAt = at
	if o.Remaining() == 0 {
		if el, ok := b.index[o.ID]; ok {
			lv.orders.Remove(el)
			delete(b.index, o.ID)
		}
		b.refreshBest(o.Side)
	}
}

// Best returns the oldest order at the best price of a side.
func (b *Book) Best(side domain.BookSide) (*domain.Order, bool) {
	p, ok := b.BestPrice(side)
	if !ok {
		return nil, false
	}
	return b.level(side, p).orders.Front().Value.(*domain.Order), true
}

// BestPrice returns the best price of a side.
func (b *Book) BestPrice(side domain.BookSide) (int64, bool) {
	if side == domain.SideBid {
		return b.bestBid, b.bestBid > 0
	}
	return b.bestAsk, b.bestAsk < levels
}

// Crosses reports whether an order on side at price would match the best
// opposing order.
func (b *Book) Crosses(side domain.BookSide, price int64) bool {
	if side == domain.SideBid {
		ask, ok := b.BestPrice(domain.SideAsk)
		return ok && price >= ask
	}
	bid, ok := b.BestPrice(domain.SideBid)
	return ok && price <= bid
}

// Matchable returns how much of up to max an order on side at price could
// fill against the opposing side right now.
func (b *Book) Matchable(side domain.BookSide, price, max int64) int64 {
	var total int64
	if side == domain.SideBid {
		for p := b.bestAsk; p < levels && p <= price && total < max; p++ {
			total += b.asks[p].qty
		}
	} else {
		for p := b.bestBid; p > 0 && p >= price && total < max; p-- {
			total += b.bids[p].qty
		}
	}
	if total > max {
		return max
	}
	return total
}

// Walk visits the resting orders an order on side at price would match,
// in priority order, until fn returns false.
func (b *Book) Walk(side domain.BookSide, price int64, fn func(o *domain.Order) bool) {
	visit := func(lv *level) bool {
		for el := lv.orders.Front(); el != nil; el = el.Next() {
			if !fn(el.Value.(*domain.Order)) {
				return false
			}
		}
		return true
	}
	if side == domain.SideBid {
		for p := b.bestAsk; p < levels && p <= price; p++ {
			if !visit(&b.asks[p]) {
				return
			}
		}
		return
	}
	for p := b.bestBid; p > 0 && p >= price; p-- {
		if !visit(&b.bids[p]) {
			return
		}
	}
}

// Orders returns every resting order, oldest first.
func (b *Book) Orders() []*domain.Order {
	out := make([]*domain.Order, 0, len(b.index))
	for _, el := range b.index {
		out = append(out, el.Value.(*domain.Order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Snapshot aggregates resting quantity per price. depth <= 0 means all
// levels.
func (b *Book) Snapshot(depth int) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		MarketID:       b.marketID,
		LastTradePrice: b.lastTrade,
		Seq:            b.seq,
		Timestamp:      time.Now().UTC(),
	}
	for p := b.bestBid; p > 0; p-- {
		if depth > 0 && len(snap.Bids) == depth {
			break
		}
		if lv := &b.bids[p]; lv.qty > 0 {
			snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Quantity: lv.qty, Orders: lv.orders.Len()})
		}
	}
	for p := b.bestAsk; p < levels; p++ {
		if depth > 0 && len(snap.Asks) == depth {
			break
		}
		if lv := &b.asks[p]; lv.qty > 0 {
			snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Quantity: lv.qty, Orders: lv.orders.Len()})
		}
	}
	return snap
}

func (b *Book) level(side domain.BookSide, price int64) *level {
	if side == domain.SideBid {
		return &b.bids[price]
	}
	return &b.asks[price]
}

func (b *Book) refreshBest(side domain.BookSide) {
	if side == domain.SideBid {
		for p := b.bestBid; p > 0; p-- {
			if b.bids[p].orders.Len() > 0 {
				b.bestBid = p
				return
			}
		}
		b.bestBid = 0
		return
	}
	for p := b.bestAsk; p < levels; p++ {
		if b.asks[p].orders.Len() > 0 {
			b.bestAsk = p
			return
		}
	}
	b.bestAsk = levels
}
