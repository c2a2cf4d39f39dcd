package notify

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// stakeDecimals is the number of decimals of the staking token's base unit.
const stakeDecimals = 6

// BetEventPublisher turns committed bet events into operator notifications.
// Event types not allowed by the Notifier are dropped there.
type BetEventPublisher struct {
	notifier *Notifier
}

// NewBetEventPublisher creates a publisher that forwards to n.
func NewBetEventPublisher(n *Notifier) *BetEventPublisher {
	return &BetEventPublisher{notifier: n}
}

// Publish implements domain.EventPublisher.
func (p *BetEventPublisher) Publish(ctx context.Context, ev domain.BetEvent) error {
	return p.notifier.NotifyEvent(ctx, ev)
}

// FormatEvent renders an event as a notification title and body.
func FormatEvent(ev domain.BetEvent) (string, string) {
	var b strings.Builder
	title := fmt.Sprintf("%s %s", eventTitle(ev.Type), ev.BetID)
	if ev.BetID.IsZero() {
		title = fmt.Sprintf("%s %s", eventTitle(ev.Type), ev.MarketID)
	}

	fmt.Fprintf(&b, "market: %s\n", ev.MarketID)
	if s := ev.Settlement; s != nil {
		fmt.Fprintf(&b, "asset: %s\n", s.AssetName)
		fmt.Fprintf(&b, "price: %s (threshold %d, %s)\n",
			formatRawPrice(s.RawPrice, s.Exponent), s.Threshold, s.Direction)
		fmt.Fprintf(&b, "winner: %s\n", s.Winner.Hex())
	}
	if ev.Amount != 0 {
		fmt.Fprintf(&b, "amount: %s\n", FormatAmount(ev.Amount))
	}
	if ev.Fee != 0 {
		fmt.Fprintf(&b, "fee: %s\n", FormatAmount(ev.Fee))
	}
	fmt.Fprintf(&b, "by: %s", ev.Actor.Hex())
	return title, b.String()
}

// FormatAmount renders base units as a decimal token amount.
func FormatAmount(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -stakeDecimals).String()
}

func formatRawPrice(price int64, expo int32) string {
	return decimal.New(price, expo).String()
}

func eventTitle(t domain.EventType) string {
	switch t {
	case domain.EventMarketInitialized:
		return "Market initialized"
	case domain.EventBetCreated:
		return "Bet created"
	case domain.EventBetFunded:
		return "Bet funded"
	case domain.EventBetMatched:
		return "Bet matched"
	case domain.EventBetSettled:
		return "Bet settled"
	case domain.EventBetClaimed:
		return "Bet claimed"
	case domain.EventBetClosed:
		return "Bet closed"
	}
	return string(t)
}

var _ domain.EventPublisher = (*BetEventPublisher)(nil)
