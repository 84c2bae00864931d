package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/service"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// statusFor pairs each domain sentinel with its HTTP status, most specific
// first.
var statusFor = []struct {
	err    error
	status int
}{
	{domain.ErrValidation, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrNotOwner, http.StatusForbidden},
	{domain.ErrOrderNotFound, http.StatusNotFound},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrMarketClosed, http.StatusConflict},
	{domain.ErrDuplicate, http.StatusConflict},
	{domain.ErrAlreadyExists, http.StatusConflict},
	{domain.ErrInvalidTransition, http.StatusConflict},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{domain.ErrInsufficientShares, http.StatusUnprocessableEntity},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
}

// writeServiceError maps a service error onto its HTTP status. Unexpected
// errors, numeric instability included, are logged and reported without
// detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	resp := errorResponse{Code: service.ErrorClass(err)}
	for _, s := range statusFor {
		if !errors.Is(err, s.err) {
			continue
		}
		resp.Error = s.err.Error()
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			resp.Error = verr.Error()
			resp.Field = verr.Field
		}
		writeJSON(w, s.status, resp)
		return
	}

	logger.ErrorContext(r.Context(), "handler: request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	resp.Error = "internal error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("body", "%v", err)
	}
	return nil
}

// idempotencyKey prefers the body field and falls back to the
// Idempotency-Key header.
func idempotencyKey(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

// parseListOpts extracts pagination and time window parameters from the
// query string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, domain.Invalid("limit", "must be a positive integer")
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, domain.Invalid("offset", "must be a non-negative integer")
		}
		opts.Offset = n
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return opts, domain.Invalid(p.name, "must be an RFC 3339 timestamp")
			}
			*p.dst = &t
		}
	}
	return opts, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseFixed converts a decimal string into an integer count of 10^-places
// units, rejecting finer precision.
func parseFixed(field, s string, places int32) (int64, error) {
	if s == "" {
		return 0, domain.Invalid(field, "is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, domain.Invalid(field, "%q is not a decimal number", s)
	}
	scaled := d.Shift(places)
	if !scaled.IsInteger() {
		return 0, domain.Invalid(field, "has more than %d decimal places", places)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, domain.Invalid(field, "is out of range")
	}
	return scaled.IntPart(), nil
}

// parseMicros parses a currency amount or share quantity.
func parseMicros(field, s string) (int64, error) { return parseFixed(field, s, 6) }

// parseTicks parses a price that must be a multiple of 0.01.
func parseTicks(field, s string) (int64, error) {
	v, err := parseFixed(field, s, 2)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) && strings.HasPrefix(verr.Reason, "has more than") {
			return 0, domain.Invalid(field, "must be a multiple of 0.01")
		}
		return 0, err
	}
	return v, nil
}

// formatMicros renders micro-units as a decimal string.
func formatMicros(v int64) string { return decimal.New(v, -6).String() }

// formatTicks renders price ticks as a decimal string.
func formatTicks(v int64) string { return decimal.New(v, -2).StringFixed(2) }

// formatPrice renders a curve price rounded to 6 places.
func formatPrice(p float64) string { return decimal.NewFromFloat(p).Round(6).String() }

func parseOutcome(s string) (domain.Outcome, error) {
	return domain.ParseOutcome(strings.ToLower(strings.TrimSpace(s)))
}
