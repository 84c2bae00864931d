package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// UserHeader carries the caller's user id. Authentication of end users is
// the job of the gateway in front of the API.
const UserHeader = "X-User-ID"

type ctxKey int

const userKey ctxKey = iota

// WithUser stores a user id in ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserID returns the user id set by Identity, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey).(string)
	return id
}

// Identity returns middleware that requires the X-User-ID header and puts
// its value in the request context.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(UserHeader))
			if id == "" {
				writeUnauthorized(w, "missing "+UserHeader+" header")
				return
			}
			if domain.IsReservedAccount(id) {
				writeError(w, http.StatusForbidden, "forbidden", "reserved account id")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
		})
	}
}

// OperatorAuth returns middleware that admits requests whose Bearer token
// or X-API-Key matches the bcrypt hash of the operator key. With an empty
// hash every request is refused.
func OperatorAuth(keyHash string) func(http.Handler) http.Handler {
	hash := []byte(keyHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(hash) == 0 {
				writeUnauthorized(w, "operator access is not configured")
				return
			}
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, "unauthorized", msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
