package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/server/middleware"
	"github.com/alanyoungcy/predictex/internal/service"
)

// AccountService reads and funds user accounts.
type AccountService interface {
	Account(ctx context.Context, userID string) (service.AccountView, error)
	Deposit(ctx context.Context, userID string, amount int64, key string) (domain.Balance, error)
	Withdraw(ctx context.Context, userID string, amount int64, key string) (domain.Balance, error)
}

// AccountHandler serves balances, positions and operator funding.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type accountResponse struct {
	UserID    string        `json:"user_id"`
	Balance   balanceDTO    `json:"balance"`
	Positions []positionDTO `json:"positions"`
}

// Account returns the caller's balance and positions.
// GET /api/account
func (h *AccountHandler) Account(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserID(r.Context())
	view, err := h.accounts.Account(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		UserID:    user,
		Balance:   toBalance(view.Balance),
		Positions: toPositions(view.Positions),
	})
}

type fundRequest struct {
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Deposit credits a user. Operator only.
// POST /api/accounts/{user}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.fund(w, r, h.accounts.Deposit)
}

// Withdraw debits a user. Operator only.
// POST /api/accounts/{user}/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.fund(w, r, h.accounts.Withdraw)
}

func (h *AccountHandler) fund(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, int64, string) (domain.Balance, error)) {
	var body fundRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	amount, err := parseMicros("amount", body.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	user := pathParam(r, "user")
	bal, err := apply(r.Context(), user, amount, idempotencyKey(r, body.IdempotencyKey))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user, "balance": toBalance(bal)})
}
