// Package config defines the top-level configuration for the friendbet
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FRIENDBET_* environment variables.
type Config struct {
	Admin    AdminConfig    `toml:"admin"`
	Betting  BettingConfig  `toml:"betting"`
	Oracle   OracleConfig   `toml:"oracle"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AdminConfig names the single privileged identity.
type AdminConfig struct {
	Address string `toml:"address"`
}

// BettingConfig holds the wager limits.
type BettingConfig struct {
	MinStake       uint64   `toml:"min_stake"`
	MinLeadTime    duration `toml:"min_lead_time"`
	MaxStaleness   duration `toml:"max_staleness"`
	FeeNumerator   uint64   `toml:"fee_numerator"`
	FeeDenominator uint64   `toml:"fee_denominator"`
	// LockTTL bounds how long one operation may hold a market lock.
	LockTTL duration `toml:"lock_ttl"`
}

// OracleConfig selects where settlement prices come from.
type OracleConfig struct {
	// Source is "hermes" (direct HTTP) or "cache" (quotes pushed by a feeder).
	Source       string   `toml:"source"`
	HermesURL    string   `toml:"hermes_url"`
	Timeout      duration `toml:"timeout"`
	PollInterval duration `toml:"poll_interval"`
	QuoteTTL     duration `toml:"quote_ttl"`
	// Stream makes the feeder use the Hermes WebSocket API instead of polling.
	Stream bool `toml:"stream"`
	// RateLimit requests per RateWindow to Hermes, shared through Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// Feeds are polled in addition to the feeds of registered markets.
	Feeds []string `toml:"feeds"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	Backend string `toml:"backend"` // "memory" or "postgres"
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// Namespace prefixes every Redis key, channel and stream.
	Namespace    string `toml:"namespace"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig holds the downstream event stream settings.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// ArchiveConfig controls the settlement archive job.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	// MinAge keeps recent settlements out of the archive.
	MinAge duration `toml:"min_age"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	SignatureSkew  duration `toml:"signature_skew"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	FaucetEnabled  bool     `toml:"faucet_enabled"`
	MetricsEnabled bool     `toml:"metrics_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Betting: BettingConfig{
			MinStake:       1_000_000,
			MinLeadTime:    duration{time.Hour},
			MaxStaleness:   duration{60 * time.Second},
			FeeNumerator:   3,
			FeeDenominator: 100,
			LockTTL:        duration{10 * time.Second},
		},
		Oracle: OracleConfig{
			Source:       "hermes",
			HermesURL:    "https://hermes.pyth.network",
			Timeout:      duration{10 * time.Second},
			PollInterval: duration{5 * time.Second},
			QuoteTTL:     duration{5 * time.Minute},
			RateLimit:    25,
			RateWindow:   duration{10 * time.Second},
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "friendbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			Namespace:    "friendbet",
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "friendbet-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic: "friendbet.bets",
		},
		Archive: ArchiveConfig{
			Cron:   "0 3 * * *",
			MinAge: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureSkew:  duration{5 * time.Minute},
			RateLimit:      120,
			RateWindow:     duration{time.Minute},
			MetricsEnabled: true,
		},
		Notify: NotifyConfig{
			Events: []string{"bet_settled", "bet_claimed"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"feeder":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// AdminAddress returns the parsed admin identity.
func (c *Config) AdminAddress() common.Address {
	return common.HexToAddress(c.Admin.Address)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, feeder, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Admin
	servesAPI := mode == "server" || mode == "full"
	if servesAPI {
		if !common.IsHexAddress(c.Admin.Address) {
			errs = append(errs, fmt.Sprintf("admin: address must be a hex address, got %q", c.Admin.Address))
		} else if c.AdminAddress() == (common.Address{}) {
			errs = append(errs, "admin: address must not be the zero address")
		}
	}

	// Betting
	if c.Betting.FeeDenominator == 0 {
		errs = append(errs, "betting: fee_denominator must be > 0")
	} else if c.Betting.FeeNumerator > c.Betting.FeeDenominator {
		errs = append(errs, "betting: fee_numerator must not exceed fee_denominator")
	}
	if c.Betting.MinLeadTime.Duration < 0 {
		errs = append(errs, "betting: min_lead_time must not be negative")
	}
	if c.Betting.MaxStaleness.Duration <= 0 {
		errs = append(errs, "betting: max_staleness must be > 0")
	}

	// Oracle
	switch c.Oracle.Source {
	case "hermes":
	case "cache":
		if !c.Redis.Enabled {
			errs = append(errs, "oracle: source \"cache\" requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown source %q (valid: hermes, cache)", c.Oracle.Source))
	}
	if (c.Oracle.Source == "hermes" || mode == "feeder" || mode == "full") && c.Oracle.HermesURL == "" {
		errs = append(errs, "oracle: hermes_url must not be empty")
	}
	if (mode == "feeder" || mode == "full") && c.Oracle.Source == "cache" && c.Oracle.PollInterval.Duration <= 0 {
		errs = append(errs, "oracle: poll_interval must be > 0")
	}
	if mode == "feeder" && !c.Redis.Enabled {
		errs = append(errs, "oracle: feeder mode requires redis.enabled")
	}
	if c.Oracle.RateLimit < 0 {
		errs = append(errs, fmt.Sprintf("oracle: rate_limit must be >= 0, got %d", c.Oracle.RateLimit))
	}
	if c.Oracle.RateLimit > 0 && c.Oracle.RateWindow.Duration <= 0 {
		errs = append(errs, "oracle: rate_window must be > 0 when rate_limit is set")
	}

	// Store
	switch c.Store.Backend {
	case "memory":
		if mode == "archive" {
			errs = append(errs, "store: archive mode requires the postgres backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 0 {
			errs = append(errs, "redis: stream_max_len must be >= 0")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty when enabled")
		}
	}

	// Archive
	if mode == "archive" || (mode == "full" && c.Archive.Enabled) {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if mode == "full" && c.Archive.Enabled {
		if c.Store.Backend != "postgres" {
			errs = append(errs, "archive: requires the postgres backend")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}
	if c.Archive.MinAge.Duration < 0 {
		errs = append(errs, "archive: min_age must not be negative")
	}

	// Server
	if servesAPI {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
