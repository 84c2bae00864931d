package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/server/middleware"
	"github.com/alanyoungcy/predictex/internal/service"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (service.PlaceOrderResult, error)
	CancelOrder(ctx context.Context, userID, orderID string) (service.CancelResult, error)
	ListOpenOrders(ctx context.Context, userID, marketID string) ([]domain.Order, error)
	ListOrders(ctx context.Context, userID, marketID string, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

type listOrdersResponse struct {
	Orders []orderDTO `json:"orders"`
}

// ListOrders returns the caller's resting orders, or with status=all their
// order history, optionally for one market.
// GET /api/orders?market_id=...&status=open|all&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := middleware.UserID(r.Context())
	marketID := q.Get("market_id")

	var (
		orders []domain.Order
		err    error
	)
	switch q.Get("status") {
	case "", "open":
		orders, err = h.orders.ListOpenOrders(r.Context(), user, marketID)
	case "all":
		var opts domain.ListOpts
		if opts, err = parseListOpts(r); err == nil {
			orders, err = h.orders.ListOrders(r.Context(), user, marketID, opts)
		}
	default:
		err = domain.Invalid("status", "must be open or all")
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: toOrders(orders)})
}

type placeOrderRequest struct {
	Intent         string `json:"intent"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	TimeInForce    string `json:"time_in_force"`
	IdempotencyKey string `json:"idempotency_key"`
}

type placeOrderResponse struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	FilledQuantity string `json:"filled_quantity"`
	Remaining      string `json:"remaining"`
	FillsCount     int    `json:"fills_count"`
}

// PlaceOrder submits a limit order to a CLOB market.
// POST /api/markets/{id}/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	req := service.PlaceOrderRequest{
		UserID:         middleware.UserID(r.Context()),
		MarketID:       pathParam(r, "id"),
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
	}
	var err error
	if req.Intent, err = domain.ParseIntent(body.Intent); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if req.TimeInForce, err = domain.ParseTimeInForce(body.TimeInForce); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if req.Price, err = parseTicks("price", body.Price); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if req.Quantity, err = parseMicros("quantity", body.Quantity); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{
		OrderID:        res.OrderID,
		Status:         string(res.Status),
		FilledQuantity: formatMicros(res.FilledQuantity),
		Remaining:      formatMicros(res.Remaining),
		FillsCount:     res.FillsCount,
	})
}

// CancelOrder cancels one of the caller's resting orders.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	res, err := h.orders.CancelOrder(r.Context(), middleware.UserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"order_id":           res.OrderID,
		"cancelled_quantity": formatMicros(res.CancelledQuantity),
	})
}
