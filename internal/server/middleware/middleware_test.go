package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, UserID(r.Context()))
	})
}

func TestIdentity(t *testing.T) {
	h := Identity()(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, " alice ")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	for _, id := range []string{"platform", "market:m2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(UserHeader, id)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, id)
	}
}

func TestOperatorAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := OperatorAuth(string(hash))(echoUser())

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer s3cret", http.StatusOK},
		{"api key", "X-API-Key", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec := httptest.NewRecorder()
	OperatorAuth("")(echoUser()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type countingLimiter struct {
	keys []string
	err  error
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.keys = append(c.keys, key)
	return len(c.keys) <= limit, nil
}

func TestRateLimitKeysByUser(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := &countingLimiter{}
	h := Identity()(RateLimit(limiter, 2, time.Second, logger)(echoUser()))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(UserHeader, "alice")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "api:user:alice", limiter.keys[0])

	failing := RateLimit(&countingLimiter{err: errors.New("down")}, 1, time.Second, logger)(echoUser())
	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingRecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})
	rec := httptest.NewRecorder()
	Logging(logger)(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/m1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	var line struct {
		Level  string `json:"level"`
		Route  string `json:"route"`
		Path   string `json:"path"`
		Status int    `json:"status"`
		Bytes  int64  `json:"bytes"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line.Level)
	assert.Equal(t, "GET /api/markets/{id}", line.Route)
	assert.Equal(t, "/api/markets/m1", line.Path)
	assert.Equal(t, http.StatusTeapot, line.Status)
	assert.EqualValues(t, len("short and stout"), line.Bytes)
}
