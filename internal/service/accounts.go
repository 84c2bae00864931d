package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/ledger"
)

// AccountView is a user's balance and open positions.
type AccountView struct {
	Balance   domain.Balance
	Positions []domain.Position
}

// Deposit credits a user with new currency.
func (t *Trading) Deposit(ctx context.Context, userID string, amount int64, key string) (domain.Balance, error) {
	return t.fund(ctx, "deposit", userID, amount, key, func(tx *ledger.Tx) error {
		return tx.Deposit(userID, amount)
	})
}

// Withdraw removes currency from a user's available balance.
func (t *Trading) Withdraw(ctx context.Context, userID string, amount int64, key string) (domain.Balance, error) {
	return t.fund(ctx, "withdraw", userID, amount, key, func(tx *ledger.Tx) error {
		return tx.Withdraw(userID, amount)
	})
}

func (t *Trading) fund(ctx context.Context, kind, userID string, amount int64, key string, build func(tx *ledger.Tx) error) (domain.Balance, error) {
	if err := domain.CheckUserID(userID); err != nil {
		return domain.Balance{}, t.reject(ctx, kind, err)
	}
	if err := domain.CheckAmount("amount", amount); err != nil {
		return domain.Balance{}, t.reject(ctx, kind, err)
	}
	opID := t.opKey(kind, userID, key)

	// Same-key calls in flight share one commit. The response is stored
	// before the flight ends.
	v, err, _ := t.funding.Do(opID, func() (any, error) {
		if v, ok := t.responses.Get(opID); ok {
			if b, ok := v.(domain.Balance); ok {
				return b, nil
			}
		}
		lr, err := t.ledger.Commit(opID, build)
		if err != nil {
			return domain.Balance{}, fmt.Errorf("service: %s %s: %w", kind, userID, err)
		}

		b := domain.Batch{
			OpID: opID,
			Audit: []domain.AuditEntry{{
				Event:     "account." + kind,
				Detail:    map[string]any{"user_id": userID, "amount": amount, "op_id": opID},
				CreatedAt: t.now(),
			}},
		}
		addLedger(&b, lr)
		t.enqueue(b)

		bal := t.ledger.Balance(userID)
		t.responses.Put(opID, bal)
		t.logger.InfoContext(ctx, "service: account funded",
			slog.String("kind", kind),
			slog.String("user_id", userID),
			slog.Int64("amount", amount),
		)
		return bal, nil
	})
	if err != nil {
		return domain.Balance{}, t.reject(ctx, kind, err)
	}
	return v.(domain.Balance), nil
}

// Account returns a user's balance and non-empty positions.
func (t *Trading) Account(_ context.Context, userID string) (AccountView, error) {
	if userID == "" {
		return AccountView{}, domain.Invalid("user_id", "must not be empty")
	}
	return AccountView{
		Balance:   t.ledger.Balance(userID),
		Positions: t.ledger.AccountPositions(userID),
	}, nil
}
