package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

func TestParseFixed(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1", 1_000_000, false},
		{"0.000001", 1, false},
		{"12.5", 12_500_000, false},
		{"-3", -3_000_000, false},
		{"0.0000001", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"1e20", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMicros("amount", tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, domain.ErrValidation, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseTicks(t *testing.T) {
	v, err := parseTicks("price", "0.37")
	require.NoError(t, err)
	assert.Equal(t, int64(37), v)

	_, err = parseTicks("price", "0.375")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "price", verr.Field)
	assert.Equal(t, "must be a multiple of 0.01", verr.Reason)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1.5", formatMicros(1_500_000))
	assert.Equal(t, "0.000001", formatMicros(1))
	assert.Equal(t, "0.40", formatTicks(40))
	assert.Equal(t, "0.333333", formatPrice(1.0/3))
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=900&offset=5&since=2026-01-02T03:04:05Z", nil)
	opts, err := parseListOpts(r)
	require.NoError(t, err)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 5, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Nil(t, opts.Until)

	for _, q := range []string{"limit=0", "offset=-1", "until=yesterday"} {
		_, err := parseListOpts(httptest.NewRequest(http.MethodGet, "/?"+q, nil))
		assert.ErrorIs(t, err, domain.ErrValidation, q)
	}
}

func TestIdempotencyKeyPrefersBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Idempotency-Key", " hdr ")
	assert.Equal(t, "body", idempotencyKey(r, "body"))
	assert.Equal(t, "hdr", idempotencyKey(r, ""))
}

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		err    error
		status int
		code   string
		field  string
	}{
		{domain.Invalid("quantity", "must be positive"), http.StatusBadRequest, "validation", "quantity"},
		{fmt.Errorf("wrapped: %w", domain.ErrInsufficientBalance), http.StatusUnprocessableEntity, "insufficient_balance", ""},
		{domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found", ""},
		{domain.ErrNotOwner, http.StatusForbidden, "not_owner", ""},
		{domain.ErrMarketClosed, http.StatusConflict, "market_closed", ""},
		{domain.ErrNumericInstability, http.StatusInternalServerError, "numeric_instability", ""},
		{errors.New("boom"), http.StatusInternalServerError, "internal", ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeServiceError(rec, httptest.NewRequest(http.MethodPost, "/x", nil), logger, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tt.code, resp.Code, tt.err.Error())
		assert.Equal(t, tt.field, resp.Field, tt.err.Error())
		if tt.status == http.StatusInternalServerError {
			assert.Equal(t, "internal error", resp.Error)
		}
	}
}
