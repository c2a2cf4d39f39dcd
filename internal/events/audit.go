package events

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// AuditPublisher records every committed event in the audit log.
type AuditPublisher struct {
	audit domain.AuditStore
}

// NewAuditPublisher creates an AuditPublisher.
func NewAuditPublisher(audit domain.AuditStore) *AuditPublisher {
	return &AuditPublisher{audit: audit}
}

// Publish implements domain.EventPublisher.
func (p *AuditPublisher) Publish(ctx context.Context, ev domain.BetEvent) error {
	if err := p.audit.Log(ctx, "bet."+string(ev.Type), auditDetail(ev)); err != nil {
		return fmt.Errorf("events: audit %s: %w", ev.Type, err)
	}
	return nil
}

func auditDetail(ev domain.BetEvent) map[string]any {
	detail := map[string]any{
		"event_id": ev.ID,
		"market":   string(ev.MarketID),
		"actor":    ev.Actor.Hex(),
		"at":       ev.At.Unix(),
	}
	if !ev.BetID.IsZero() {
		detail["bet"] = ev.BetID.String()
	}
	if ev.Amount != 0 {
		detail["amount"] = ev.Amount
	}
	if ev.Fee != 0 {
		detail["fee"] = ev.Fee
	}
	if s := ev.Settlement; s != nil {
		detail["winner"] = s.Winner.Hex()
		detail["price"] = s.Price
		detail["threshold"] = s.Threshold
		detail["publish_time"] = s.PublishTime.Unix()
	}
	return detail
}

var _ domain.EventPublisher = (*AuditPublisher)(nil)
