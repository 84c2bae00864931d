package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/service"
)

// AdminService is the operator side of the market lifecycle.
type AdminService interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	CloseMarket(ctx context.Context, marketID string) (domain.Market, error)
	Resolve(ctx context.Context, marketID string, outcome domain.Outcome) (domain.Market, error)
	CancelMarket(ctx context.Context, marketID string) (domain.Market, error)
}

// AdminHandler serves the operator market endpoints.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

type createMarketRequest struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Mode      string     `json:"mode"`
	Liquidity string     `json:"liquidity"`
	CloseTime *time.Time `json:"close_time"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *AdminHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var body createMarketRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	req := service.CreateMarketRequest{
		ID:       body.ID,
		Question: body.Question,
		Mode:     domain.MarketMode(body.Mode),
	}
	if body.Liquidity != "" {
		micros, err := parseMicros("liquidity", body.Liquidity)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		req.Liquidity = domain.Units(micros)
	}
	if body.CloseTime != nil {
		req.CloseTime = body.CloseTime.UTC()
	}

	m, err := h.admin.CreateMarket(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarket(m))
}

// CloseMarket stops trading on a market.
// POST /api/markets/{id}/close
func (h *AdminHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.admin.CloseMarket(r.Context(), pathParam(r, "id")))
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// Resolve settles a market in favour of one outcome.
// POST /api/markets/{id}/resolve
func (h *AdminHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	outcome, err := parseOutcome(body.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.respond(w, r)(h.admin.Resolve(r.Context(), pathParam(r, "id"), outcome))
}

// CancelMarket voids a market and refunds its positions.
// POST /api/markets/{id}/cancel
func (h *AdminHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.admin.CancelMarket(r.Context(), pathParam(r, "id")))
}

func (h *AdminHandler) respond(w http.ResponseWriter, r *http.Request) func(domain.Market, error) {
	return func(m domain.Market, err error) {
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toMarket(m))
	}
}
