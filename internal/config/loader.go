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
// built-in defaults, applies PREDICTEX_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PREDICTEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.OperatorKeyHash, "PREDICTEX_SERVER_OPERATOR_KEY_HASH")
	setInt(&cfg.Server.RateLimitPerSecond, "PREDICTEX_SERVER_RATE_LIMIT_PER_SECOND")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "PREDICTEX_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PREDICTEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTEX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTEX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICTEX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTEX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTEX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTEX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTEX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTEX_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PREDICTEX_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PREDICTEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTEX_S3_FORCE_PATH_STYLE")

	// ── Trading ──
	setInt64(&cfg.Trading.AMMFeeBps, "PREDICTEX_TRADING_AMM_FEE_BPS")
	setInt64(&cfg.Trading.CLOBFeeBps, "PREDICTEX_TRADING_CLOB_FEE_BPS")
	setFloat64(&cfg.Trading.DefaultLiquidity, "PREDICTEX_TRADING_DEFAULT_LIQUIDITY")
	setFloat64(&cfg.Trading.SolverTolerance, "PREDICTEX_TRADING_SOLVER_TOLERANCE")
	setInt(&cfg.Trading.SolverMaxIterations, "PREDICTEX_TRADING_SOLVER_MAX_ITERATIONS")
	setDuration(&cfg.Trading.IdempotencyTTL, "PREDICTEX_TRADING_IDEMPOTENCY_TTL")

	// ── Lifecycle ──
	setDuration(&cfg.Lifecycle.SweepInterval, "PREDICTEX_LIFECYCLE_SWEEP_INTERVAL")
	setDuration(&cfg.Lifecycle.LeaseTTL, "PREDICTEX_LIFECYCLE_LEASE_TTL")

	// ── Journal ──
	setDuration(&cfg.Journal.RetryBackoff, "PREDICTEX_JOURNAL_RETRY_BACKOFF")
	setDuration(&cfg.Journal.MaxRetryBackoff, "PREDICTEX_JOURNAL_MAX_RETRY_BACKOFF")
	setDuration(&cfg.Journal.ShutdownTimeout, "PREDICTEX_JOURNAL_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "PREDICTEX_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "PREDICTEX_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "PREDICTEX_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "PREDICTEX_METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "PREDICTEX_METRICS_NAMESPACE")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTEX_MODE")
	setStr(&cfg.LogLevel, "PREDICTEX_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
