package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FRIENDBET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FRIENDBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Admin ──
	setStr(&cfg.Admin.Address, "FRIENDBET_ADMIN_ADDRESS")

	// ── Betting ──
	setUint64(&cfg.Betting.MinStake, "FRIENDBET_BETTING_MIN_STAKE")
	setDuration(&cfg.Betting.MinLeadTime, "FRIENDBET_BETTING_MIN_LEAD_TIME")
	setDuration(&cfg.Betting.MaxStaleness, "FRIENDBET_BETTING_MAX_STALENESS")
	setUint64(&cfg.Betting.FeeNumerator, "FRIENDBET_BETTING_FEE_NUMERATOR")
	setUint64(&cfg.Betting.FeeDenominator, "FRIENDBET_BETTING_FEE_DENOMINATOR")
	setDuration(&cfg.Betting.LockTTL, "FRIENDBET_BETTING_LOCK_TTL")

	// ── Oracle ──
	setStr(&cfg.Oracle.Source, "FRIENDBET_ORACLE_SOURCE")
	setStr(&cfg.Oracle.HermesURL, "FRIENDBET_ORACLE_HERMES_URL")
	setDuration(&cfg.Oracle.Timeout, "FRIENDBET_ORACLE_TIMEOUT")
	setDuration(&cfg.Oracle.PollInterval, "FRIENDBET_ORACLE_POLL_INTERVAL")
	setDuration(&cfg.Oracle.QuoteTTL, "FRIENDBET_ORACLE_QUOTE_TTL")
	setBool(&cfg.Oracle.Stream, "FRIENDBET_ORACLE_STREAM")
	setInt(&cfg.Oracle.RateLimit, "FRIENDBET_ORACLE_RATE_LIMIT")
	setDuration(&cfg.Oracle.RateWindow, "FRIENDBET_ORACLE_RATE_WINDOW")
	setStringSlice(&cfg.Oracle.Feeds, "FRIENDBET_ORACLE_FEEDS")

	// ── Store ──
	setStr(&cfg.Store.Backend, "FRIENDBET_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FRIENDBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FRIENDBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FRIENDBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FRIENDBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FRIENDBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FRIENDBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FRIENDBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FRIENDBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FRIENDBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FRIENDBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FRIENDBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FRIENDBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FRIENDBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FRIENDBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FRIENDBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FRIENDBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FRIENDBET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "FRIENDBET_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FRIENDBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FRIENDBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "FRIENDBET_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "FRIENDBET_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "FRIENDBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FRIENDBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FRIENDBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FRIENDBET_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "FRIENDBET_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "FRIENDBET_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "FRIENDBET_KAFKA_TOPIC")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FRIENDBET_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "FRIENDBET_ARCHIVE_CRON")
	setDuration(&cfg.Archive.MinAge, "FRIENDBET_ARCHIVE_MIN_AGE")

	// ── Server ──
	setInt(&cfg.Server.Port, "FRIENDBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FRIENDBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FRIENDBET_SERVER_API_KEY")
	setDuration(&cfg.Server.SignatureSkew, "FRIENDBET_SERVER_SIGNATURE_SKEW")
	setInt(&cfg.Server.RateLimit, "FRIENDBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FRIENDBET_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.FaucetEnabled, "FRIENDBET_SERVER_FAUCET_ENABLED")
	setBool(&cfg.Server.MetricsEnabled, "FRIENDBET_SERVER_METRICS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FRIENDBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FRIENDBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FRIENDBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FRIENDBET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FRIENDBET_MODE")
	setStr(&cfg.LogLevel, "FRIENDBET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
