package notify

import (
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
)

type recordingSender struct {
	events []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, event, _, _ string) error {
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSender) Name() string { return "recorder" }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{EventMarketResolved, " "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventMarketResolved, "t", "m"))
	require.NoError(t, n.Notify(context.Background(), EventJournalFailed, "t", "m"))
	assert.Equal(t, []string{EventMarketResolved}, rec.events)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	ok := &recordingSender{}
	bad := &recordingSender{err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, discardLogger())

	err := n.Notify(context.Background(), EventJournalFailed, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, ok.events, 1)
}

func TestNilNotifierIsSilent(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(context.Background(), EventMarketResolved, "t", "m"))
	n.Go(EventMarketResolved, "t", "m")
}

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get(HeaderSignature))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL, "").Send(context.Background(), EventMarketCancelled, "Market cancelled", "m1 refunded"))
	assert.Equal(t, EventMarketCancelled, got.Event)
	assert.Equal(t, "**Market cancelled**\nm1 refunded", got.Content)
}

func TestWebhookSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "").Send(context.Background(), "e", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSenderSignsBody(t *testing.T) {
	secret := "whsec"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		ts := r.Header.Get(HeaderTimestamp)
		assert.Equal(t, "1767225600", ts)
		assert.Equal(t, Sign([]byte(secret), ts, body), r.Header.Get(HeaderSignature))
		assert.NotEqual(t, Sign([]byte("other"), ts, body), r.Header.Get(HeaderSignature))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, secret)
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Send(context.Background(), EventJournalFailed, "t", "m"))
}
