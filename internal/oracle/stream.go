package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// HermesWSURL derives the streaming endpoint from a Hermes base URL.
func HermesWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("oracle/stream: parse %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("oracle/stream: unsupported scheme in %q", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// StreamFeeder keeps a price cache fresh from the Hermes WebSocket API. New
// feeds are picked up every refresh interval; the connection is re-established
// with backoff when it drops.
type StreamFeeder struct {
	wsURL   string
	sink    domain.PriceCache
	feeds   FeedLister
	refresh time.Duration
	logger  *slog.Logger
}

func NewStreamFeeder(wsURL string, sink domain.PriceCache, feeds FeedLister, refresh time.Duration, logger *slog.Logger) *StreamFeeder {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &StreamFeeder{
		wsURL:   wsURL,
		sink:    sink,
		feeds:   feeds,
		refresh: refresh,
		logger:  logger.With(slog.String("component", "hermes_stream")),
	}
}

type streamCommand struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type streamMessage struct {
	Type      string        `json:"type"`
	Status    string        `json:"status"`
	Error     string        `json:"error"`
	PriceFeed *hermesParsed `json:"price_feed"`
}

// Run streams until ctx is cancelled.
func (f *StreamFeeder) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		stored, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			f.logger.InfoContext(ctx, "stream: stopped")
			return nil
		}
		if stored > 0 {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "stream: disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection serves one connection and returns how many quotes it stored.
func (f *StreamFeeder) runConnection(ctx context.Context) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return 0, fmt.Errorf("oracle/stream: connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Only this goroutine writes; the reader below only reads.
	msgs := make(chan []byte, 64)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			select {
			case msgs <- data:
			case <-stop:
				return
			}
		}
	}()

	subscribed := make(map[domain.FeedID]bool)
	if err := f.subscribe(ctx, conn, subscribed); err != nil {
		return 0, err
	}
	f.logger.InfoContext(ctx, "stream: connected", slog.Int("feeds", len(subscribed)))

	refresh := time.NewTicker(f.refresh)
	defer refresh.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	stored := 0
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return stored, ctx.Err()

		case <-refresh.C:
			if err := f.subscribe(ctx, conn, subscribed); err != nil {
				return stored, err
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return stored, fmt.Errorf("oracle/stream: ping: %w", err)
			}

		case data, ok := <-msgs:
			if !ok {
				return stored, fmt.Errorf("oracle/stream: read: %w", <-readErr)
			}
			if f.handle(ctx, data) {
				stored++
			}
		}
	}
}

// subscribe sends a subscription for listed feeds not yet subscribed.
func (f *StreamFeeder) subscribe(ctx context.Context, conn *websocket.Conn, subscribed map[domain.FeedID]bool) error {
	feeds, err := f.feeds(ctx)
	if err != nil {
		f.logger.WarnContext(ctx, "stream: list feeds failed", slog.String("error", err.Error()))
		return nil
	}
	cmd := streamCommand{Type: "subscribe"}
	for _, feed := range feeds {
		if !subscribed[feed] {
			cmd.IDs = append(cmd.IDs, feed.Hex())
		}
	}
	if len(cmd.IDs) == 0 {
		return nil
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("oracle/stream: marshal subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("oracle/stream: subscribe: %w", err)
	}
	for _, feed := range feeds {
		subscribed[feed] = true
	}
	return nil
}

// handle processes one message and reports whether a quote was stored.
func (f *StreamFeeder) handle(ctx context.Context, data []byte) bool {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.DebugContext(ctx, "stream: unparseable message", slog.String("error", err.Error()))
		return false
	}

	switch msg.Type {
	case "response":
		if msg.Status != "success" {
			f.logger.WarnContext(ctx, "stream: subscription rejected", slog.String("error", msg.Error))
		}
	case "price_update":
		if msg.PriceFeed == nil {
			return false
		}
		q, err := msg.PriceFeed.toQuote()
		if err != nil {
			f.logger.WarnContext(ctx, "stream: bad price update", slog.String("error", err.Error()))
			return false
		}
		if err := f.sink.SetQuote(ctx, q); err != nil {
			f.logger.WarnContext(ctx, "stream: store quote failed",
				slog.String("feed", q.FeedID.Hex()),
				slog.String("error", err.Error()),
			)
			return false
		}
		return true
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
