package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// BatchSource fetches several feeds in one round trip.
type BatchSource interface {
	LatestMany(ctx context.Context, feeds []domain.FeedID) (map[domain.FeedID]domain.Quote, error)
}

// FeedLister returns the feeds that should be kept fresh.
type FeedLister func(ctx context.Context) ([]domain.FeedID, error)

// Feeder copies quotes from an upstream source into a price cache on a
// fixed interval.
type Feeder struct {
	source   BatchSource
	sink     domain.PriceCache
	feeds    FeedLister
	interval time.Duration
	logger   *slog.Logger
}

func NewFeeder(source BatchSource, sink domain.PriceCache, feeds FeedLister, interval time.Duration, logger *slog.Logger) *Feeder {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Feeder{
		source:   source,
		sink:     sink,
		feeds:    feeds,
		interval: interval,
		logger:   logger.With(slog.String("component", "feeder")),
	}
}

// Poll fetches every listed feed once and returns how many quotes were stored.
func (f *Feeder) Poll(ctx context.Context) (int, error) {
	feeds, err := f.feeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("oracle/feeder: list feeds: %w", err)
	}
	if len(feeds) == 0 {
		return 0, nil
	}

	quotes, err := f.source.LatestMany(ctx, feeds)
	if err != nil {
		return 0, fmt.Errorf("oracle/feeder: fetch: %w", err)
	}

	stored := 0
	for _, feed := range feeds {
		q, ok := quotes[feed]
		if !ok {
			f.logger.WarnContext(ctx, "feeder: feed missing upstream", slog.String("feed", feed.Hex()))
			continue
		}
		if err := f.sink.SetQuote(ctx, q); err != nil {
			return stored, fmt.Errorf("oracle/feeder: store %s: %w", feed.Hex(), err)
		}
		stored++
	}
	return stored, nil
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next tick.
func (f *Feeder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.InfoContext(ctx, "feeder: started", slog.Duration("interval", f.interval))
	for {
		n, err := f.Poll(ctx)
		if err != nil {
			f.logger.WarnContext(ctx, "feeder: poll failed", slog.String("error", err.Error()))
		} else {
			f.logger.DebugContext(ctx, "feeder: poll complete", slog.Int("quotes", n))
		}

		select {
		case <-ctx.Done():
			f.logger.InfoContext(ctx, "feeder: stopped")
			return nil
		case <-ticker.C:
		}
	}
}
