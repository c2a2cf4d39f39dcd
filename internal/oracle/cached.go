package oracle

import (
	"context"
	"errors"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// CachedSource serves quotes that a Feeder pushed into a PriceCache.
type CachedSource struct {
	cache domain.PriceCache
}

var _ Source = (*CachedSource)(nil)

func NewCachedSource(cache domain.PriceCache) *CachedSource {
	return &CachedSource{cache: cache}
}

func (c *CachedSource) Latest(ctx context.Context, feed domain.FeedID) (domain.Quote, error) {
	q, err := c.cache.GetQuote(ctx, feed)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Quote{}, domain.ErrOracleUnavailable.WithDetail("no cached quote for %s", feed.Hex())
	}
	return q, err
}
