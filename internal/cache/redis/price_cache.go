package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each feed's
// latest quote is stored at "{namespace}:quote:{feed hex}" with fields "price", "conf",
// "expo" and "publish_time" (unix seconds).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A positive
// ttl expires quotes the feeder stops refreshing.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) quoteKey(feed domain.FeedID) string {
	return pc.c.key("quote", feed.Hex())
}

// SetQuote stores the latest quote for its feed.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := pc.quoteKey(q.FeedID)
	fields := map[string]interface{}{
		"price":        strconv.FormatInt(q.Price, 10),
		"conf":         strconv.FormatUint(q.Conf, 10),
		"expo":         strconv.FormatInt(int64(q.Expo), 10),
		"publish_time": strconv.FormatInt(q.PublishTime.Unix(), 10),
	}

	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.FeedID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a feed. It returns
// domain.ErrNotFound when nothing has been stored.
func (pc *PriceCache) GetQuote(ctx context.Context, feed domain.FeedID) (domain.Quote, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.quoteKey(feed)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", feed, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	q, err := parseQuote(feed, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", feed, err)
	}
	return q, nil
}

func parseQuote(feed domain.FeedID, vals map[string]string) (domain.Quote, error) {
	q := domain.Quote{FeedID: feed}
	var err error
	if q.Price, err = strconv.ParseInt(vals["price"], 10, 64); err != nil {
		return domain.Quote{}, fmt.Errorf("parse price: %w", err)
	}
	if q.Conf, err = strconv.ParseUint(vals["conf"], 10, 64); err != nil {
		return domain.Quote{}, fmt.Errorf("parse conf: %w", err)
	}
	expo, err := strconv.ParseInt(vals["expo"], 10, 32)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse expo: %w", err)
	}
	q.Expo = int32(expo)
	ts, err := strconv.ParseInt(vals["publish_time"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse publish_time: %w", err)
	}
	q.PublishTime = time.Unix(ts, 0).UTC()
	return q, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
