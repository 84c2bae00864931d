package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/predictex/internal/blob/s3"
	"github.com/alanyoungcy/predictex/internal/cache/redis"
	"github.com/alanyoungcy/predictex/internal/config"
	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/metrics"
	"github.com/alanyoungcy/predictex/internal/notify"
	"github.com/alanyoungcy/predictex/internal/server/handler"
	"github.com/alanyoungcy/predictex/internal/store/memory"
	"github.com/alanyoungcy/predictex/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional dependencies are nil when their backend is disabled.
type Dependencies struct {
	// Stores
	Stores   domain.Stores
	Postgres *postgres.Client

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   *redis.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Observability
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Health   map[string]handler.HealthCheck
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

	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}

	// --- Storage ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Migrate mode runs them explicitly.
		if cfg.Postgres.RunMigrations && cfg.Mode != "migrate" {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Postgres = pgClient
		deps.Stores = postgres.NewStores(pgClient.Pool())
		deps.Health["postgres"] = pgClient.Ping
	default:
		logger.WarnContext(ctx, "wire: using in-memory storage, state is lost on restart")
		deps.Stores = memory.New().Stores()
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
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.BookCache = redis.NewOrderbookCache(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled || cfg.Mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewSettlementArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Stores,
			s3Client.Prefix(),
		)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.PrometheusMetrics(cfg.Metrics.Namespace)
	} else {
		deps.Metrics = metrics.NopMetrics()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
