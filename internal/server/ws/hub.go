// Package ws relays signal-bus traffic to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bullbear/internal/domain"
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

	// maxReplay bounds how many stream entries a reconnecting client gets.
	maxReplay = 500
)

// Config selects what the hub relays.
type Config struct {
	// Channels are the bus channels relayed to clients. Every client starts
	// subscribed to all of them.
	Channels []string
	// ReplayStream is the stream a client can resume from with ?since=<id>.
	ReplayStream string
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
}

// frame is what clients receive: the source channel and the raw bus payload.
type frame struct {
	Channel string          `json:"channel"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// subscribeMsg is the JSON message a client sends to change its channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub manages connected clients and fans bus messages out to them.
type Hub struct {
	cfg        Config
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub over bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		cfg:        cfg,
		bus:        bus,
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run subscribes to the configured channels and runs the hub's main loop
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range h.cfg.Channels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
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
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", total))

		case msg := <-h.broadcast:
			data, err := json.Marshal(frame{Channel: msg.channel, Data: rawJSON(msg.data)})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel forwards one bus channel to the broadcast loop.
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
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. A client that
// passes ?since=<stream id> first receives the stream entries it missed.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range h.cfg.Channels {
		c.subs[ch] = true
	}

	if since != "" && h.cfg.ReplayStream != "" {
		h.replay(r.Context(), c, since)
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

// replay queues stream entries after since, up to the client's buffer.
func (h *Hub) replay(ctx context.Context, c *client, since string) {
	msgs, err := h.bus.StreamRead(ctx, h.cfg.ReplayStream, since, min(maxReplay, sendBufferSize))
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("since", since), slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		data, err := json.Marshal(frame{Channel: h.cfg.ReplayStream, ID: m.ID, Data: rawJSON(m.Payload)})
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
	h.logger.Debug("ws: replayed stream", slog.String("since", since), slog.Int("entries", len(msgs)))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// rawJSON passes JSON payloads through and quotes anything else.
func rawJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	return json.RawMessage(strconv.Quote(string(b)))
}

// readPump reads subscription changes until the connection closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
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

// isSubscribed checks exact names and trailing "*" wildcards.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump sends queued frames as text messages and pings periodically.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
