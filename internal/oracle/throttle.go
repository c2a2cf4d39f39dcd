package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// Upstream is a quote service that answers single and batched lookups.
type Upstream interface {
	Source
	BatchSource
}

// Waiter blocks until one more call fits the budget for key.
type Waiter interface {
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// Throttled spends one unit of a shared budget per upstream request. All
// processes using the same key share the budget.
type Throttled struct {
	upstream Upstream
	limiter  Waiter
	key      string
	limit    int
	window   time.Duration
}

func Throttle(upstream Upstream, limiter Waiter, key string, limit int, window time.Duration) *Throttled {
	return &Throttled{
		upstream: upstream,
		limiter:  limiter,
		key:      key,
		limit:    limit,
		window:   window,
	}
}

func (t *Throttled) Latest(ctx context.Context, feed domain.FeedID) (domain.Quote, error) {
	if err := t.limiter.Wait(ctx, t.key, t.limit, t.window); err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: throttle %s: %w", t.key, err)
	}
	return t.upstream.Latest(ctx, feed)
}

func (t *Throttled) LatestMany(ctx context.Context, feeds []domain.FeedID) (map[domain.FeedID]domain.Quote, error) {
	if err := t.limiter.Wait(ctx, t.key, t.limit, t.window); err != nil {
		return nil, fmt.Errorf("oracle: throttle %s: %w", t.key, err)
	}
	return t.upstream.LatestMany(ctx, feeds)
}

var _ Upstream = (*Throttled)(nil)
