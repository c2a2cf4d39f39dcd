package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementRecord is the durable record of a resolution decision. It keeps
// the raw oracle reading so the outcome can be recomputed later.
type SettlementRecord struct {
	BetID       BetID          `json:"bet_id"`
	MarketID    MarketID       `json:"market_id"`
	AssetName   string         `json:"asset_name"`
	FeedID      FeedID         `json:"feed_id"`
	RawPrice    int64          `json:"raw_price"`
	Exponent    int32          `json:"exponent"`
	PublishTime time.Time      `json:"publish_time"`
	Price       uint64         `json:"price"`
	Threshold   uint64         `json:"threshold"`
	Direction   Direction      `json:"direction"`
	Better      common.Address `json:"better"`
	Matcher     common.Address `json:"matcher"`
	Winner      common.Address `json:"winner"`
	SettledAt   time.Time      `json:"settled_at"`
}

// Quote is a single oracle reading.
type Quote struct {
	FeedID      FeedID    `json:"feed_id"`
	Price       int64     `json:"price"`
	Conf        uint64    `json:"conf"`
	Expo        int32     `json:"expo"`
	PublishTime time.Time `json:"publish_time"`
}

// Reading is a quote that passed the staleness and feed checks, with its
// price normalized to display units.
type Reading struct {
	Quote
	Normalized uint64 `json:"normalized"`
}

// Oracle reads a validated price for a feed.
type Oracle interface {
	GetPrice(ctx context.Context, feed FeedID, maxStaleness time.Duration) (Reading, error)
}
