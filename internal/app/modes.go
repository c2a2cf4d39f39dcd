package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/engine"
	"github.com/alanyoungcy/friendbet/internal/metrics"
	"github.com/alanyoungcy/friendbet/internal/oracle"
	"github.com/alanyoungcy/friendbet/internal/server"
	"github.com/alanyoungcy/friendbet/internal/server/handler"
	"github.com/alanyoungcy/friendbet/internal/server/ws"
)

// ServerMode runs the bet engine behind the HTTP API and, when Redis is
// wired, the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	eng, err := a.newEngine(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, eng)
	return g.Wait()
}

// FeederMode polls Hermes for every market feed and writes the quotes to the
// Redis price cache.
func (a *App) FeederMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feeder mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeeder(ctx, g, deps); err != nil {
		return fmt.Errorf("feeder mode: %w", err)
	}
	return g.Wait()
}

// ArchiveMode copies settled records to S3 once and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	n, err := a.archiveOnce(ctx, deps)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive mode: done", slog.Int64("records", n))
	return nil
}

// FullMode runs the API server, the quote feeder when Redis is available, and
// the scheduled settlement archive when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.newEngine(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, eng)

	if deps.PriceCache != nil && deps.Hermes != nil {
		if err := a.startFeeder(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	} else {
		a.logger.InfoContext(ctx, "full mode: redis not configured, quote feeder disabled")
	}

	if a.cfg.Archive.Enabled {
		if err := a.startArchiveCron(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}

	return g.Wait()
}

// newEngine builds the bet engine with the configured oracle, locks,
// publishers and metrics.
func (a *App) newEngine(deps *Dependencies) (*engine.Engine, error) {
	var src oracle.Source
	switch a.cfg.Oracle.Source {
	case "cache":
		if deps.PriceCache == nil {
			return nil, errors.New("oracle source \"cache\" needs redis")
		}
		src = oracle.NewCachedSource(deps.PriceCache)
	default:
		if deps.Hermes == nil {
			return nil, errors.New("oracle: hermes_url is not set")
		}
		src = deps.Hermes
	}

	policy := engine.Policy{
		MinStake:       a.cfg.Betting.MinStake,
		MinLeadTime:    a.cfg.Betting.MinLeadTime.Duration,
		MaxStaleness:   a.cfg.Betting.MaxStaleness.Duration,
		FeeNumerator:   a.cfg.Betting.FeeNumerator,
		FeeDenominator: a.cfg.Betting.FeeDenominator,
	}
	opts := []engine.Option{
		engine.WithPublisher(deps.publisher()),
		engine.WithObserver(deps.Metrics),
	}
	if deps.LockManager != nil {
		opts = append(opts, engine.WithLocks(deps.LockManager, a.cfg.Betting.LockTTL.Duration))
	}

	return engine.New(deps.Store, oracle.NewAdapter(src, nil), a.cfg.AdminAddress(), policy, a.logger, opts...), nil
}

// startHTTPServer adds the API server, and the WebSocket hub when a signal
// bus is wired, to the given errgroup. The server is shut down gracefully
// when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Markets:     handler.NewMarketHandler(eng, deps.Store, a.logger),
		Bets:        handler.NewBetHandler(eng, deps.Store, a.logger),
		Wallets:     handler.NewWalletHandler(deps.Store, a.cfg.AdminAddress(), a.cfg.Server.FaucetEnabled, a.logger),
		Settlements: handler.NewSettlementHandler(deps.Store, a.logger),
	}
	if a.cfg.Server.MetricsEnabled {
		handlers.Metrics = deps.Metrics.Handler()
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "HTTP server: redis not configured, /ws disabled")
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		SignatureSkew:  a.cfg.Server.SignatureSkew.Duration,
		RateLimit:      a.cfg.Server.RateLimit,
		RateWindow:     a.cfg.Server.RateWindow.Duration,
		MetricsEnabled: a.cfg.Server.MetricsEnabled,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Run(ctx)
	})
}

// startFeeder adds the Hermes to Redis quote feeder, polling or streaming, to
// the errgroup.
func (a *App) startFeeder(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.PriceCache == nil {
		return errors.New("feeder needs redis")
	}
	if deps.Hermes == nil {
		return errors.New("feeder needs oracle.hermes_url")
	}

	extra := make([]domain.FeedID, 0, len(a.cfg.Oracle.Feeds))
	for _, s := range a.cfg.Oracle.Feeds {
		feed, err := domain.ParseFeedID(s)
		if err != nil {
			return fmt.Errorf("oracle.feeds: %w", err)
		}
		extra = append(extra, feed)
	}

	sink := countingCache{PriceCache: deps.PriceCache, metrics: deps.Metrics}
	feeds := feedLister(deps.Store, extra)

	if a.cfg.Oracle.Stream {
		wsURL, err := oracle.HermesWSURL(a.cfg.Oracle.HermesURL)
		if err != nil {
			return err
		}
		stream := oracle.NewStreamFeeder(wsURL, sink, feeds, 0, a.logger)
		g.Go(func() error {
			return stream.Run(ctx)
		})
		return nil
	}

	feeder := oracle.NewFeeder(deps.Hermes, sink, feeds, a.cfg.Oracle.PollInterval.Duration, a.logger)
	g.Go(func() error {
		return feeder.Run(ctx)
	})
	return nil
}

// startArchiveCron schedules the settlement archive. Runs never overlap.
func (a *App) startArchiveCron(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archive enabled but s3 is not wired")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.cfg.Archive.Cron, func() {
		n, err := a.archiveOnce(ctx, deps)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: scheduled run failed", slog.String("error", err.Error()))
			return
		}
		a.logger.InfoContext(ctx, "archive: scheduled run complete", slog.Int64("records", n))
	}); err != nil {
		return fmt.Errorf("archive cron %q: %w", a.cfg.Archive.Cron, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archive: cron started", slog.String("schedule", a.cfg.Archive.Cron))
	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		a.logger.Info("archive: cron stopped")
		return nil
	})
	return nil
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) (int64, error) {
	if deps.Archiver == nil {
		return 0, errors.New("s3 is not wired")
	}
	cutoff := time.Now().Add(-a.cfg.Archive.MinAge.Duration)
	return deps.Archiver.ArchiveSettlements(ctx, cutoff)
}

const feedPageSize = 500

// feedLister returns the feeds of every registered market plus extra,
// without duplicates.
func feedLister(markets domain.Reader, extra []domain.FeedID) oracle.FeedLister {
	return func(ctx context.Context) ([]domain.FeedID, error) {
		seen := make(map[domain.FeedID]bool)
		var out []domain.FeedID
		add := func(f domain.FeedID) {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
		for _, f := range extra {
			add(f)
		}

		for offset := 0; ; offset += feedPageSize {
			page, err := markets.ListMarkets(ctx, domain.ListOpts{Limit: feedPageSize, Offset: offset})
			if err != nil {
				return nil, err
			}
			for _, m := range page {
				add(m.FeedID)
			}
			if len(page) < feedPageSize {
				return out, nil
			}
		}
	}
}

// countingCache counts stored quotes for the metrics endpoint.
type countingCache struct {
	domain.PriceCache
	metrics *metrics.Metrics
}

func (c countingCache) SetQuote(ctx context.Context, q domain.Quote) error {
	if err := c.PriceCache.SetQuote(ctx, q); err != nil {
		return err
	}
	c.metrics.AddQuotes(1)
	return nil
}
