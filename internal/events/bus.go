package events

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// BusPublisher writes events to the signal bus: the pub/sub channel for live
// subscribers and the stream for replay.
type BusPublisher struct {
	bus domain.SignalBus
}

// NewBusPublisher creates a BusPublisher over the given bus.
func NewBusPublisher(bus domain.SignalBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// Publish implements domain.EventPublisher.
func (p *BusPublisher) Publish(ctx context.Context, ev domain.BetEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.bus.StreamAppend(ctx, Stream, payload); err != nil {
		return fmt.Errorf("events: bus: %w", err)
	}
	if err := p.bus.Publish(ctx, Channel, payload); err != nil {
		return fmt.Errorf("events: bus: %w", err)
	}
	return nil
}

// Replay reads up to count events from the stream after lastID. It returns
// the events and the id to resume from.
func Replay(ctx context.Context, bus domain.SignalBus, lastID string, count int) ([]domain.BetEvent, string, error) {
	msgs, err := bus.StreamRead(ctx, Stream, lastID, count)
	if err != nil {
		return nil, lastID, fmt.Errorf("events: replay: %w", err)
	}
	evs := make([]domain.BetEvent, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := Decode(msg.Payload)
		if err != nil {
			return nil, lastID, err
		}
		evs = append(evs, ev)
		lastID = msg.ID
	}
	return evs, lastID, nil
}

var _ domain.EventPublisher = (*BusPublisher)(nil)
