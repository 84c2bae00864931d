package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/service"
)

// MarketService defines the read methods that the market handler requires
// from the service layer. It is declared locally so the handler package
// does not depend on the concrete service implementation.
type MarketService interface {
	ListMarkets(ctx context.Context, status domain.MarketStatus) []domain.Market
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	GetBook(ctx context.Context, marketID string) (service.BookView, error)
	Prices(ctx context.Context, marketID string) (service.PriceView, error)
	ListFills(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error)
	ListTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// MarketHandler serves the public market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Markets []marketDTO `json:"markets"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

// ListMarkets returns markets, optionally filtered by status, with
// pagination.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	all := h.markets.ListMarkets(r.Context(), domain.MarketStatus(r.URL.Query().Get("status")))

	resp := listMarketsResponse{Markets: []marketDTO{}, Total: len(all), Limit: opts.Limit, Offset: opts.Offset}
	if opts.Offset < len(all) {
		end := min(opts.Offset+opts.Limit, len(all))
		for _, m := range all[opts.Offset:end] {
			resp.Markets = append(resp.Markets, toMarket(m))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.markets.GetMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarket(market))
}

// GetBook returns the aggregated order book of a CLOB market.
// GET /api/markets/{id}/book
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.markets.GetBook(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBook(book))
}

// GetPrices returns a market's outcome prices and best bid and ask.
// GET /api/markets/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.markets.Prices(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrices(prices))
}

// ListFills returns a market's CLOB fills, newest first.
// GET /api/markets/{id}/fills?limit=50&since=...
func (h *MarketHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts, err := parseListOpts(r)
	if err == nil {
		_, err = h.markets.GetMarket(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	fills, err := h.markets.ListFills(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fills": toFills(fills)})
}

// ListTrades returns a market's AMM trades, newest first.
// GET /api/markets/{id}/trades?limit=50&since=...
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts, err := parseListOpts(r)
	if err == nil {
		_, err = h.markets.GetMarket(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	trades, err := h.markets.ListTrades(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": toTrades(trades)})
}
