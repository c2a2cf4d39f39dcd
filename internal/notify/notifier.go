// Package notify tells operators about settled and claimed bets over
// Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// Sender delivers one notification to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// EventSender is a Sender that renders bet events itself.
type EventSender interface {
	Sender
	SendEvent(ctx context.Context, ev domain.BetEvent) error
}

// Notifier fans a notification out to every sender, for the configured event
// types only.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends to all senders when event is allowed. One failing sender does
// not stop the others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	return n.fanOut(ctx, event, title, func(s Sender) error {
		return s.Send(ctx, title, message)
	})
}

// NotifyEvent is Notify for a bet event. EventSenders get the event itself;
// other senders get the FormatEvent text.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.BetEvent) error {
	title, message := FormatEvent(ev)
	return n.fanOut(ctx, string(ev.Type), title, func(s Sender) error {
		if es, ok := s.(EventSender); ok {
			return es.SendEvent(ctx, ev)
		}
		return s.Send(ctx, title, message)
	})
}

func (n *Notifier) fanOut(ctx context.Context, event, title string, send func(Sender) error) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := send(s); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
