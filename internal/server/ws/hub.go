// Package ws pushes market events to WebSocket clients. Events reach the
// hub either directly from the journal (single instance) or through the
// Redis signal bus (every instance sees every event).
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictex/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayLimit caps the fills returned by one replay request.
	replayLimit = 500
)

// busChannels are the signal bus channels the hub relays.
var busChannels = []string{
	domain.ChannelMarkets,
	domain.ChannelBookPrefix + "*",
	domain.ChannelFillPrefix + "*",
}

// defaultSubs is what a new client receives before it subscribes to
// anything.
var defaultSubs = []string{domain.ChannelMarkets}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels, "*" suffix matches a prefix
	mu   sync.RWMutex
}

// clientMsg is a request from a client:
//
//	{"action":"subscribe","channels":["book:m1"]}
//	{"action":"unsubscribe","channels":["markets"]}
//	{"action":"replay","after":"1767225600000-0","count":100}
//
// replay resends fills from the durable fill stream after the given id, so
// a reconnecting client can catch up.
type clientMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
	After    string   `json:"after,omitempty"`
	Count    int      `json:"count,omitempty"`
}

// Hub manages a set of connected WebSocket clients and broadcasts market
// events to the clients subscribed to their channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	direct     chan directMsg
	done       chan struct{}
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// directMsg is addressed to one client only.
type directMsg struct {
	client *client
	data   []byte
}

// Config holds the hub options.
type Config struct {
	// Bus, when set, is the source of events; otherwise events arrive
	// through PublishEvent.
	Bus domain.SignalBus
	// AllowedOrigins restricts the Origin header; empty allows all.
	AllowedOrigins []string
}

// NewHub creates a hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		direct:     make(chan directMsg, 64),
		done:       make(chan struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        cfg.Bus,
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  time.Now().UTC(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// PublishEvent hands an event to connected clients. It never blocks longer
// than ctx allows.
func (h *Hub) PublishEvent(ctx context.Context, e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcastMsg{channel: e.Channel(), data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// It handles client registration, unregistration, and message broadcasting.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range busChannels {
			go h.subscribeToChannel(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client",
							slog.String("channel", msg.channel),
						)
					}
				}
			}
			h.mu.RUnlock()

		case m := <-h.direct:
			h.mu.RLock()
			if h.clients[m.client] {
				select {
				case m.client.send <- m.data:
				default:
					h.logger.Warn("ws: dropping direct message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// deliver queues data for one client through the hub loop, which owns the
// client's send channel.
func (h *Hub) deliver(c *client, data []byte) {
	select {
	case h.direct <- directMsg{client: c, data: data}:
	case <-h.done:
	}
}

// subscribeToChannel relays one bus channel (or pattern) into the hub. A
// pattern subscription reports the pattern, not the concrete channel, so
// the concrete channel is recovered from the event itself.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			var e domain.Event
			if err := json.Unmarshal(data, &e); err != nil {
				h.logger.Warn("ws: dropping malformed event",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: e.Channel(), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range defaultSubs {
		c.subs[ch] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes from the client until the
// connection closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil || msg.Action == "" {
			c.sendJSON("error", map[string]any{"message": "malformed request"})
			continue
		}
		if msg.Action == "replay" {
			c.replay(msg)
			continue
		}
		c.handleSubscription(msg)
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg clientMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendHello tells a new client which channels it is subscribed to.
func (c *client) sendHello() {
	c.sendJSON("connected", map[string]any{
		"channels":       defaultSubs,
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
	})
}

// replay sends the fills recorded after msg.After, one "replay" message per
// fill, then a "replay_done" carrying the id to resume from.
func (c *client) replay(msg clientMsg) {
	if c.hub.bus == nil {
		c.sendJSON("error", map[string]any{"message": "replay is not available"})
		return
	}
	after := msg.After
	if after == "" {
		after = "0"
	}
	count := msg.Count
	if count <= 0 || count > replayLimit {
		count = replayLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	fills, err := c.hub.bus.StreamRead(ctx, domain.StreamFills, after, count)
	if err != nil {
		c.hub.logger.Warn("ws: fill replay failed", slog.String("error", err.Error()))
		c.sendJSON("error", map[string]any{"message": "replay failed"})
		return
	}

	last := after
	for _, f := range fills {
		c.sendJSON("replay", map[string]any{"id": f.ID, "event": json.RawMessage(f.Payload)})
		last = f.ID
	}
	c.sendJSON("replay_done", map[string]any{"count": len(fills), "last_id": last})
}

func (c *client) sendJSON(typ string, payload any) {
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return
	}
	c.hub.deliver(c, data)
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	// "book:*" matches "book:m1".
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump sends queued events as text frames and pings periodically.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
