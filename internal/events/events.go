// Package events delivers committed bet events to the Redis bus, Kafka, the
// audit log and operator notifiers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

const (
	// Channel is the pub/sub channel WebSocket hubs subscribe to.
	Channel = "ch:bets"
	// Stream is the durable Redis stream holding the same events.
	Stream = "stream:bets"
)

// Encode serializes an event as JSON.
func Encode(ev domain.BetEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	return payload, nil
}

// Decode parses an event produced by Encode.
func Decode(payload []byte) (domain.BetEvent, error) {
	var ev domain.BetEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.BetEvent{}, fmt.Errorf("events: unmarshal: %w", err)
	}
	return ev, nil
}

// Multi fans an event out to every publisher. All publishers are tried; the
// returned error joins the failures.
type Multi []domain.EventPublisher

// Publish implements domain.EventPublisher.
func (m Multi) Publish(ctx context.Context, ev domain.BetEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ domain.EventPublisher = Multi(nil)
