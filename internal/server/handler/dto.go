package handler

import (
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/journal"
	"github.com/alanyoungcy/predictex/internal/service"
)

// Amounts, share quantities and prices cross the API as decimal strings.

type marketDTO struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	PriceYes       string     `json:"price_yes,omitempty"`
	PriceNo        string     `json:"price_no,omitempty"`
	Liquidity      string     `json:"liquidity,omitempty"`
	LastTradePrice string     `json:"last_trade_price,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`
	CloseTime      *time.Time `json:"close_time,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toMarket(m domain.Market) marketDTO {
	out := marketDTO{
		ID:         m.ID,
		Question:   m.Question,
		Mode:       string(m.Mode),
		Status:     string(m.Status),
		Resolution: string(m.Resolution),
		ClosedAt:   m.ClosedAt,
		SettledAt:  m.SettledAt,
		CreatedAt:  m.CreatedAt,
	}
	if !m.CloseTime.IsZero() {
		ct := m.CloseTime
		out.CloseTime = &ct
	}
	if yes, no, ok := journal.MarketPrices(m); ok {
		out.PriceYes, out.PriceNo = formatPrice(yes), formatPrice(no)
	}
	if m.Mode == domain.MarketModeAMM {
		out.Liquidity = formatPrice(m.Liquidity)
	}
	if m.LastTradePrice > 0 {
		out.LastTradePrice = formatTicks(m.LastTradePrice)
	}
	return out
}

type orderDTO struct {
	ID          string     `json:"id"`
	MarketID    string     `json:"market_id"`
	Intent      string     `json:"intent"`
	Price       string     `json:"price"`
	Quantity    string     `json:"quantity"`
	Filled      string     `json:"filled"`
	Remaining   string     `json:"remaining"`
	TimeInForce string     `json:"time_in_force"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func toOrders(in []domain.Order) []orderDTO {
	out := make([]orderDTO, 0, len(in))
	for _, o := range in {
		out = append(out, orderDTO{
			ID:          o.ID,
			MarketID:    o.MarketID,
			Intent:      string(o.Intent),
			Price:       formatTicks(o.LimitPrice),
			Quantity:    formatMicros(o.Quantity),
			Filled:      formatMicros(o.Filled),
			Remaining:   formatMicros(o.Remaining()),
			TimeInForce: string(o.TimeInForce),
			Status:      string(o.Status),
			CreatedAt:   o.CreatedAt,
			UpdatedAt:   o.UpdatedAt,
			CancelledAt: o.CancelledAt,
		})
	}
	return out
}

type fillDTO struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Price        string    `json:"price"`
	Quantity     string    `json:"quantity"`
	TakerOrderID string    `json:"taker_order_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func toFills(in []domain.Fill) []fillDTO {
	out := make([]fillDTO, 0, len(in))
	for _, f := range in {
		out = append(out, fillDTO{
			ID:           f.ID,
			Kind:         string(f.Kind),
			Price:        formatTicks(f.Price),
			Quantity:     formatMicros(f.Quantity),
			TakerOrderID: f.TakerOrderID,
			CreatedAt:    f.CreatedAt,
		})
	}
	return out
}

type tradeDTO struct {
	ID        string    `json:"id"`
	Outcome   string    `json:"outcome"`
	Side      string    `json:"side"`
	Amount    string    `json:"amount"`
	Fee       string    `json:"fee"`
	Shares    string    `json:"shares"`
	PriceYes  string    `json:"price_yes"`
	PriceNo   string    `json:"price_no"`
	CreatedAt time.Time `json:"created_at"`
}

func toTrades(in []domain.Trade) []tradeDTO {
	out := make([]tradeDTO, 0, len(in))
	for _, t := range in {
		out = append(out, tradeDTO{
			ID:        t.ID,
			Outcome:   string(t.Outcome),
			Side:      string(t.Side),
			Amount:    formatMicros(t.Gross),
			Fee:       formatMicros(t.Fee),
			Shares:    formatMicros(t.Shares),
			PriceYes:  formatPrice(t.PriceYes),
			PriceNo:   formatPrice(t.PriceNo),
			CreatedAt: t.CreatedAt,
		})
	}
	return out
}

type levelDTO struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type bookDTO struct {
	MarketID       string     `json:"market_id"`
	Bids           []levelDTO `json:"bids"`
	Asks           []levelDTO `json:"asks"`
	LastTradePrice string     `json:"last_trade_price,omitempty"`
	Seq            uint64     `json:"seq"`
}

func toBook(b service.BookView) bookDTO {
	conv := func(in []service.BookLevel) []levelDTO {
		out := make([]levelDTO, 0, len(in))
		for _, l := range in {
			out = append(out, levelDTO{Price: formatTicks(l.Price), Quantity: formatMicros(l.Quantity)})
		}
		return out
	}
	out := bookDTO{MarketID: b.MarketID, Bids: conv(b.Bids), Asks: conv(b.Asks), Seq: b.Seq}
	if b.LastTradePrice > 0 {
		out.LastTradePrice = formatTicks(b.LastTradePrice)
	}
	return out
}

type pricesDTO struct {
	MarketID  string    `json:"market_id"`
	PriceYes  string    `json:"price_yes,omitempty"`
	PriceNo   string    `json:"price_no,omitempty"`
	BestBid   string    `json:"best_bid,omitempty"`
	BestAsk   string    `json:"best_ask,omitempty"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPrices(v service.PriceView) pricesDTO {
	out := pricesDTO{MarketID: v.MarketID, Source: "live", UpdatedAt: v.UpdatedAt}
	if v.Cached {
		out.Source = "cache"
	}
	if v.Priced {
		out.PriceYes, out.PriceNo = formatPrice(v.Yes), formatPrice(v.No)
	}
	if v.BestBid > 0 {
		out.BestBid = formatTicks(v.BestBid)
	}
	if v.BestAsk > 0 {
		out.BestAsk = formatTicks(v.BestAsk)
	}
	return out
}

type balanceDTO struct {
	Available string `json:"available"`
	Held      string `json:"held"`
}

func toBalance(b domain.Balance) balanceDTO {
	return balanceDTO{Available: formatMicros(b.Available), Held: formatMicros(b.Held)}
}

type positionDTO struct {
	MarketID  string `json:"market_id"`
	Outcome   string `json:"outcome"`
	Shares    string `json:"shares"`
	Held      string `json:"held"`
	CostBasis string `json:"cost_basis"`
}

func toPositions(in []domain.Position) []positionDTO {
	out := make([]positionDTO, 0, len(in))
	for _, p := range in {
		out = append(out, positionDTO{
			MarketID:  p.MarketID,
			Outcome:   string(p.Outcome),
			Shares:    formatMicros(p.Shares),
			Held:      formatMicros(p.Held),
			CostBasis: formatMicros(p.CostBasis),
		})
	}
	return out
}
