// Package ws streams committed bet events to browser clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/events"
	"github.com/alanyoungcy/friendbet/internal/server/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Clients only send subscription changes.
	maxMessageSize = 4096

	sendBufferSize = 256
	// replayLimit leaves room in the send buffer for the hello frame.
	replayLimit = sendBufferSize - 1
)

// client represents a single WebSocket connection. An empty market set means
// the client receives events of every market.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	markets map[domain.MarketID]bool
	mu      sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to narrow or widen the set
// of markets it follows.
//
//	{"action":"subscribe","markets":["e62df6c8b4a85fe1"]}
type subscribeMsg struct {
	Action  string   `json:"action"`
	Markets []string `json:"markets"`
}

// Hub manages a set of connected WebSocket clients and broadcasts bet events
// from the signal bus to the clients following the event's market.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

type broadcastMsg struct {
	market domain.MarketID
	data   []byte
}

// NewHub creates a hub that bridges the bus channel to WebSocket clients.
// allowedOrigins restricts browser origins; empty allows all.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		startedAt:  time.Now().UTC(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     middleware.NewOriginPolicy(allowedOrigins).CheckOrigin,
	}
	return h
}

// Run subscribes to the bet channel and runs the hub's event loop until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgCh, err := h.bus.Subscribe(ctx, events.Channel)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", events.Channel))
	go h.forward(ctx, msgCh)

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
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.follows(msg.market) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward decodes bus payloads and hands them to the event loop.
func (h *Hub) forward(ctx context.Context, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", events.Channel))
				return
			}
			ev, err := events.Decode(data)
			if err != nil {
				h.logger.Warn("ws: dropping undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{market: ev.MarketID, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. The optional "market" query parameters preselect
// markets. "since" replays events appended to the bet stream after that
// stream id, so a reconnecting client can catch up; events may then arrive
// twice and carry their id for deduplication.
// GET /ws?market=<id>&since=<stream id>
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		markets: make(map[domain.MarketID]bool),
	}
	for _, m := range r.URL.Query()["market"] {
		c.markets[domain.MarketID(m)] = true
	}

	// Queue before registering: once registered the hub may close c.send.
	c.sendHello()
	if since := r.URL.Query().Get("since"); since != "" {
		c.replay(r.Context(), since)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes from the connection until it closes.
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

		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, m := range msg.Markets {
			c.markets[domain.MarketID(m)] = true
		}
	case "unsubscribe":
		for _, m := range msg.Markets {
			delete(c.markets, domain.MarketID(m))
		}
	}
}

// sendHello lets clients mark the connection healthy before any event flows.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	msg, err := json.Marshal(map[string]any{
		"type":           "hello",
		"uptime_seconds": uptime,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// replay queues stream events after since that the client follows.
func (c *client) replay(ctx context.Context, since string) {
	evs, _, err := events.Replay(ctx, c.hub.bus, since, replayLimit)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("since", since), slog.String("error", err.Error()))
		return
	}
	for _, ev := range evs {
		if !c.follows(ev.MarketID) {
			continue
		}
		data, err := events.Encode(ev)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

func (c *client) follows(market domain.MarketID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets) == 0 || c.markets[market]
}

// writePump sends queued events as text frames and keeps the connection
// alive with pings.
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
