package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// fakeBus serves a fixed fill stream and never publishes.
type fakeBus struct {
	fills []domain.StreamMessage
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, _ string, after string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.fills {
		if m.ID > after && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func dialHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	return dialHubWith(t, Config{})
}

func dialHubWith(t *testing.T, cfg Config) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connected", hello["type"])
	return hub, conn
}

func TestHubDeliversSubscribedChannels(t *testing.T) {
	hub, conn := dialHub(t)
	ctx := context.Background()

	require.NoError(t, conn.WriteJSON(clientMsg{Action: "subscribe", Channels: []string{"book:*"}}))
	// Let the read pump apply the subscription.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, hub.PublishEvent(ctx, domain.Event{Type: domain.EventFill, MarketID: "m1"}))
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{Type: domain.EventBookUpdated, MarketID: "m1"}))
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{Type: domain.EventMarketCreated, MarketID: "m2"}))

	var got []domain.Event
	for range 2 {
		var e domain.Event
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&e))
		got = append(got, e)
	}
	assert.Equal(t, domain.EventBookUpdated, got[0].Type)
	assert.Equal(t, domain.EventMarketCreated, got[1].Type)
}

type wsMsg struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func readMsg(t *testing.T, conn *websocket.Conn) wsMsg {
	t.Helper()
	var m wsMsg
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestReplayFills(t *testing.T) {
	bus := &fakeBus{fills: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"fill","market_id":"m1"}`)},
		{ID: "2-0", Payload: []byte(`{"type":"fill","market_id":"m2"}`)},
		{ID: "3-0", Payload: []byte(`{"type":"fill","market_id":"m1"}`)},
	}}
	_, conn := dialHubWith(t, Config{Bus: bus})

	require.NoError(t, conn.WriteJSON(clientMsg{Action: "replay", After: "1-0", Count: 10}))

	first := readMsg(t, conn)
	assert.Equal(t, "replay", first.Type)
	assert.Equal(t, "2-0", first.Payload["id"])
	event, ok := first.Payload["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m2", event["market_id"])

	assert.Equal(t, "3-0", readMsg(t, conn).Payload["id"])

	done := readMsg(t, conn)
	assert.Equal(t, "replay_done", done.Type)
	assert.EqualValues(t, 2, done.Payload["count"])
	assert.Equal(t, "3-0", done.Payload["last_id"])
}

func TestReplayWithoutBus(t *testing.T) {
	_, conn := dialHub(t)
	require.NoError(t, conn.WriteJSON(clientMsg{Action: "replay"}))
	assert.Equal(t, "error", readMsg(t, conn).Type)
}

func TestIsSubscribedPatterns(t *testing.T) {
	c := &client{subs: map[string]bool{"markets": true, "fills:*": true}}
	assert.True(t, c.isSubscribed("markets"))
	assert.True(t, c.isSubscribed("fills:m1"))
	assert.False(t, c.isSubscribed("book:m1"))

	c.handleSubscription(clientMsg{Action: "unsubscribe", Channels: []string{"fills:*"}})
	assert.False(t, c.isSubscribed("fills:m1"))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://APP.example")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}
