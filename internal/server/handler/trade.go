package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictex/internal/server/middleware"
	"github.com/alanyoungcy/predictex/internal/service"
)

// TradeService executes AMM trades.
type TradeService interface {
	Buy(ctx context.Context, req service.BuyRequest) (service.BuyResult, error)
	Sell(ctx context.Context, req service.SellRequest) (service.SellResult, error)
}

// TradeHandler serves the AMM trading endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type buyRequest struct {
	Outcome        string `json:"outcome"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type buyResponse struct {
	TradeID        string `json:"trade_id"`
	SharesAcquired string `json:"shares_acquired"`
	Fee            string `json:"fee"`
	NewPriceYes    string `json:"new_price_yes"`
	NewPriceNo     string `json:"new_price_no"`
	NewBalance     string `json:"new_balance"`
}

// Buy spends an amount of currency on one outcome.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var body buyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	outcome, err := parseOutcome(body.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	amount, err := parseMicros("amount", body.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.trades.Buy(r.Context(), service.BuyRequest{
		UserID:         middleware.UserID(r.Context()),
		MarketID:       pathParam(r, "id"),
		Outcome:        outcome,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, buyResponse{
		TradeID:        res.TradeID,
		SharesAcquired: formatMicros(res.SharesAcquired),
		Fee:            formatMicros(res.Fee),
		NewPriceYes:    formatPrice(res.NewPriceYes),
		NewPriceNo:     formatPrice(res.NewPriceNo),
		NewBalance:     formatMicros(res.NewBalance),
	})
}

type sellRequest struct {
	Outcome        string `json:"outcome"`
	Shares         string `json:"shares"`
	IdempotencyKey string `json:"idempotency_key"`
}

type sellResponse struct {
	TradeID     string `json:"trade_id"`
	Revenue     string `json:"revenue"`
	Fee         string `json:"fee"`
	NewPriceYes string `json:"new_price_yes"`
	NewPriceNo  string `json:"new_price_no"`
	NewBalance  string `json:"new_balance"`
}

// Sell returns shares of one outcome to the market maker.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	var body sellRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	outcome, err := parseOutcome(body.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	shares, err := parseMicros("shares", body.Shares)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.trades.Sell(r.Context(), service.SellRequest{
		UserID:         middleware.UserID(r.Context()),
		MarketID:       pathParam(r, "id"),
		Outcome:        outcome,
		Shares:         shares,
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sellResponse{
		TradeID:     res.TradeID,
		Revenue:     formatMicros(res.Revenue),
		Fee:         formatMicros(res.Fee),
		NewPriceYes: formatPrice(res.NewPriceYes),
		NewPriceNo:  formatPrice(res.NewPriceNo),
		NewBalance:  formatMicros(res.NewBalance),
	})
}
