package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

const (
	subscribeBuffer = 128
	payloadField    = "payload"
)

// SignalBus carries encoded bet events. Pub/sub feeds live WebSocket
// clients; a capped stream keeps recent events for replay by stream id.
// Channel and stream names are namespaced like every other key.
type SignalBus struct {
	c *Client
}

func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns payloads published on channel until ctx is done, then
// closes the returned channel.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.c.rdb.Subscribe(ctx, sb.c.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	in := pubsub.Channel(redis.WithChannelSize(subscribeBuffer))
	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			var msg *redis.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg = m
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream, trimming it to about the client's
// StreamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.key(stream),
		MaxLen: sb.c.streamMaxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries with ids strictly after lastID, in
// stream order. An empty lastID reads from the start.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	msgs, err := sb.c.rdb.XRangeN(ctx, sb.c.key(stream), rangeStart(lastID), "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	out := make([]domain.StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		if data, ok := payloadBytes(m.Values[payloadField]); ok {
			out = append(out, domain.StreamMessage{ID: m.ID, Payload: data})
		}
	}
	return out, nil
}

// rangeStart turns a last-seen id into an exclusive XRANGE start.
func rangeStart(lastID string) string {
	if lastID == "" || lastID == "-" {
		return "-"
	}
	return "(" + lastID
}

func payloadBytes(v any) ([]byte, bool) {
	switch p := v.(type) {
	case string:
		return []byte(p), true
	case []byte:
		return p, true
	}
	return nil, false
}

var _ domain.SignalBus = (*SignalBus)(nil)
