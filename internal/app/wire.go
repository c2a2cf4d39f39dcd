package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/friendbet/internal/blob/s3"
	"github.com/alanyoungcy/friendbet/internal/cache/redis"
	"github.com/alanyoungcy/friendbet/internal/config"
	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/events"
	"github.com/alanyoungcy/friendbet/internal/metrics"
	"github.com/alanyoungcy/friendbet/internal/notify"
	"github.com/alanyoungcy/friendbet/internal/oracle"
	"github.com/alanyoungcy/friendbet/internal/server/handler"
	"github.com/alanyoungcy/friendbet/internal/store/memory"
	"github.com/alanyoungcy/friendbet/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional dependencies are nil when not configured.
type Dependencies struct {
	// Stores
	Store      domain.Store
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Oracle
	Hermes oracle.Upstream

	// Outbound
	Kafka    *events.KafkaPublisher
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are reported by GET /api/health.
	Checks map[string]handler.Check
}

// needsS3 returns true for modes that write the settlement archive.
func needsS3(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Mode)
	return mode == "archive" || (mode == "full" && cfg.Archive.Enabled)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]handler.Check{},
	}

	// --- Store ---
	if cfg.Store.Backend == "postgres" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			ApplicationName: "friendbet",
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Store = postgres.NewStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: using the in-memory store; state is lost on restart")
		deps.Store = memory.New()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,

			Namespace:    cfg.Redis.Namespace,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Oracle.QuoteTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		// The memory store is process-local and keeps the engine's own locks.
		if cfg.Store.Backend == "postgres" {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- Oracle ---
	if cfg.Oracle.HermesURL != "" {
		deps.Hermes = oracle.NewHermesSource(cfg.Oracle.HermesURL, cfg.Oracle.Timeout.Duration)
		if deps.RateLimiter != nil && cfg.Oracle.RateLimit > 0 {
			deps.Hermes = oracle.Throttle(deps.Hermes, deps.RateLimiter, "hermes", cfg.Oracle.RateLimit, cfg.Oracle.RateWindow.Duration)
		}
	}

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.Store, deps.AuditStore)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		deps.Kafka = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		kafka := deps.Kafka
		closers = append(closers, func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("wire: kafka close failed", slog.String("error", err.Error()))
			}
		})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// publisher fans committed bet events out to every configured sink.
func (d *Dependencies) publisher() domain.EventPublisher {
	var multi events.Multi
	if d.SignalBus != nil {
		multi = append(multi, events.NewBusPublisher(d.SignalBus))
	}
	if d.Kafka != nil {
		multi = append(multi, d.Kafka)
	}
	if d.AuditStore != nil {
		multi = append(multi, events.NewAuditPublisher(d.AuditStore))
	}
	if d.Notifier != nil {
		multi = append(multi, notify.NewBetEventPublisher(d.Notifier))
	}
	return multi
}
