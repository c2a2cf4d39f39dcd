package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a committed lifecycle transition.
type EventType string

const (
	EventMarketInitialized EventType = "market_initialized"
	EventBetCreated        EventType = "bet_created"
	EventBetFunded         EventType = "bet_funded"
	EventBetMatched        EventType = "bet_matched"
	EventBetSettled        EventType = "bet_settled"
	EventBetClaimed        EventType = "bet_claimed"
	EventBetClosed         EventType = "bet_closed"
)

// BetEvent is published after an operation commits.
type BetEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	MarketID   MarketID          `json:"market_id"`
	BetID      BetID             `json:"bet_id,omitempty"`
	Actor      common.Address    `json:"actor"`
	Amount     uint64            `json:"amount,omitempty"`
	Fee        uint64            `json:"fee,omitempty"`
	Settlement *SettlementRecord `json:"settlement,omitempty"`
	At         time.Time         `json:"at"`
}

// EventPublisher delivers committed events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev BetEvent) error
}
