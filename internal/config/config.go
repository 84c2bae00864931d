// Package config defines the top-level configuration for the exchange and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTEX_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Trading   TradingConfig   `toml:"trading"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Journal   JournalConfig   `toml:"journal"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// OperatorKeyHash is the bcrypt hash of the operator API key. Empty
	// disables every operator route.
	OperatorKeyHash    string `toml:"operator_key_hash"`
	RateLimitPerSecond int    `toml:"rate_limit_per_second"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `toml:"driver"`
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
}

// S3Config holds S3-compatible object storage parameters for the
// settlement archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TradingConfig holds fee and pricing parameters.
type TradingConfig struct {
	AMMFeeBps           int64    `toml:"amm_fee_bps"`
	CLOBFeeBps          int64    `toml:"clob_fee_bps"`
	DefaultLiquidity    float64  `toml:"default_liquidity"`
	SolverTolerance     float64  `toml:"solver_tolerance"`
	SolverMaxIterations int      `toml:"solver_max_iterations"`
	IdempotencyTTL      duration `toml:"idempotency_ttl"`
}

// LifecycleConfig tunes the close sweeper.
type LifecycleConfig struct {
	SweepInterval duration `toml:"sweep_interval"`
	LeaseTTL      duration `toml:"lease_ttl"`
}

// JournalConfig tunes the persistence writer.
type JournalConfig struct {
	RetryBackoff    duration `toml:"retry_backoff"`
	MaxRetryBackoff duration `toml:"max_retry_backoff"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds the operator alert webhook.
type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
	// WebhookSecret signs each alert with HMAC-SHA256 when set.
	WebhookSecret string   `toml:"webhook_secret"`
	Events        []string `toml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerSecond: 20,
		},
		Storage: StorageConfig{Driver: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "predictex",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictex-archive",
			ForcePathStyle: true,
		},
		Trading: TradingConfig{
			AMMFeeBps:           200,
			CLOBFeeBps:          0,
			DefaultLiquidity:    100,
			SolverTolerance:     1e-9,
			SolverMaxIterations: 200,
			IdempotencyTTL:      duration{10 * time.Minute},
		},
		Lifecycle: LifecycleConfig{
			SweepInterval: duration{time.Second},
			LeaseTTL:      duration{10 * time.Second},
		},
		Journal: JournalConfig{
			RetryBackoff:    duration{100 * time.Millisecond},
			MaxRetryBackoff: duration{30 * time.Second},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "market_cancelled", "journal_failed", "numeric_instability"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "predictex",
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"migrate": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, migrate, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
		if c.Mode == "migrate" || c.Mode == "archive" {
			errs = append(errs, "storage: mode "+c.Mode+" requires driver postgres")
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
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: memory, postgres)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled || c.Mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Trading
	if c.Trading.AMMFeeBps < 0 || c.Trading.AMMFeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("trading: amm_fee_bps must be 0-9999, got %d", c.Trading.AMMFeeBps))
	}
	if c.Trading.CLOBFeeBps < 0 || c.Trading.CLOBFeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("trading: clob_fee_bps must be 0-9999, got %d", c.Trading.CLOBFeeBps))
	}
	if c.Trading.DefaultLiquidity <= 0 {
		errs = append(errs, "trading: default_liquidity must be > 0")
	}
	if c.Trading.SolverTolerance <= 0 {
		errs = append(errs, "trading: solver_tolerance must be > 0")
	}
	if c.Trading.SolverMaxIterations < 1 {
		errs = append(errs, "trading: solver_max_iterations must be >= 1")
	}
	if c.Trading.IdempotencyTTL.Duration <= 0 {
		errs = append(errs, "trading: idempotency_ttl must be > 0")
	}

	// Lifecycle
	if c.Lifecycle.SweepInterval.Duration <= 0 {
		errs = append(errs, "lifecycle: sweep_interval must be > 0")
	}
	if c.Redis.Enabled && c.Lifecycle.LeaseTTL.Duration < c.Lifecycle.SweepInterval.Duration {
		errs = append(errs, "lifecycle: lease_ttl must not be shorter than sweep_interval")
	}

	// Server
	if c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerSecond < 0 {
			errs = append(errs, "server: rate_limit_per_second must be >= 0")
		}
		if h := c.Server.OperatorKeyHash; h != "" && !strings.HasPrefix(h, "$2") {
			errs = append(errs, "server: operator_key_hash must be a bcrypt hash")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
