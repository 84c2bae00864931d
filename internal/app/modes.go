package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/predictex/internal/blob/s3"
	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/journal"
	"github.com/alanyoungcy/predictex/internal/lmsr"
	"github.com/alanyoungcy/predictex/internal/server"
	"github.com/alanyoungcy/predictex/internal/server/handler"
	"github.com/alanyoungcy/predictex/internal/server/ws"
	"github.com/alanyoungcy/predictex/internal/service"
)

// idempotencySweep is how often expired idempotency responses are dropped.
const idempotencySweep = time.Minute

// ServeMode runs the exchange: it restores state from the store, then runs
// the HTTP API, the WebSocket hub, the journal writer, the close sweeper and
// the idempotency cache cleanup until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	hubCfg := ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}
	if deps.SignalBus != nil {
		hubCfg.Bus = deps.SignalBus
	}
	hub := ws.NewHub(hubCfg, a.logger)

	writer := journal.NewWriter(deps.Stores.Batches, a.sinks(deps, hub), journal.Config{
		RetryBackoff:    a.cfg.Journal.RetryBackoff.Duration,
		MaxRetryBackoff: a.cfg.Journal.MaxRetryBackoff.Duration,
		ShutdownTimeout: a.cfg.Journal.ShutdownTimeout.Duration,
	}, deps.Metrics, deps.Notifier, a.logger)

	var opts []service.Option
	if deps.LockManager != nil {
		opts = append(opts, service.WithLocks(deps.LockManager))
	}
	if deps.PriceCache != nil {
		opts = append(opts, service.WithCaches(deps.PriceCache, deps.BookCache))
	}
	trading := service.NewTrading(service.Config{
		AMMFeeBps:        a.cfg.Trading.AMMFeeBps,
		CLOBFeeBps:       a.cfg.Trading.CLOBFeeBps,
		DefaultLiquidity: a.cfg.Trading.DefaultLiquidity,
		Solver: lmsr.Solver{
			Tolerance:     a.cfg.Trading.SolverTolerance,
			MaxIterations: a.cfg.Trading.SolverMaxIterations,
			BracketFactor: lmsr.DefaultSolver().BracketFactor,
		},
		IdempotencyTTL: a.cfg.Trading.IdempotencyTTL.Duration,
		SweepInterval:  a.cfg.Lifecycle.SweepInterval.Duration,
		LeaseTTL:       a.cfg.Lifecycle.LeaseTTL.Duration,
	}, deps.Stores, writer, deps.Metrics, deps.Notifier, a.logger, opts...)

	if err := trading.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore: %w", err)
	}

	g.Go(func() error { return writer.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return trading.RunSweeper(ctx) })
	g.Go(func() error { return trading.Responses().Run(ctx, idempotencySweep) })

	a.startHTTPServer(ctx, g, deps, trading, hub)

	return g.Wait()
}

// sinks builds the journal fan-out. Events go to the Redis bus when it is
// configured, so every instance's hub sees them, and straight to the local
// hub otherwise.
func (a *App) sinks(deps *Dependencies, hub *ws.Hub) []journal.Sink {
	var sinks []journal.Sink
	if deps.MarketCache != nil && deps.PriceCache != nil && deps.BookCache != nil {
		sinks = append(sinks, journal.NewCacheSink(deps.MarketCache, deps.PriceCache, deps.BookCache))
	}
	if deps.SignalBus != nil {
		sinks = append(sinks, journal.NewEventSink("bus", deps.SignalBus))
	} else {
		sinks = append(sinks, journal.NewEventSink("ws", hub))
	}
	if deps.Archiver != nil {
		sinks = append(sinks, journal.NewArchiveSink(deps.Archiver, a.logger))
	}
	return sinks
}

// startHTTPServer adds the HTTP server goroutines to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	trading *service.Trading,
	hub *ws.Hub,
) {
	var metricsHandler http.Handler
	if a.cfg.Metrics.Enabled {
		metricsHandler = promhttp.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		OperatorKeyHash: a.cfg.Server.OperatorKeyHash,
		RateLimit:       a.cfg.Server.RateLimitPerSecond,
		RateWindow:      time.Second,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Markets:  handler.NewMarketHandler(trading, a.logger),
		Trades:   handler.NewTradeHandler(trading, a.logger),
		Orders:   handler.NewOrderHandler(trading, a.logger),
		Accounts: handler.NewAccountHandler(trading, a.logger),
		Admin:    handler.NewAdminHandler(trading, a.logger),
	}, hub, deps.RateLimiter, metricsHandler, a.logger)

	if a.cfg.Server.OperatorKeyHash == "" {
		a.logger.WarnContext(ctx, "operator_key_hash not set, operator routes are disabled")
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// MigrateMode applies the embedded schema migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	if deps.Postgres == nil {
		return errors.New("app: migrate mode requires the postgres storage driver")
	}
	if err := deps.Postgres.RunMigrations(ctx); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}

// ArchiveMode uploads the settlement record of every resolved or cancelled
// market that is not archived yet, reads each object back to check it, then
// exits. Archiving is idempotent so the mode can be re-run after a partial
// failure.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3")
	}
	markets, err := deps.Stores.Markets.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("app: archive: list markets: %w", err)
	}

	var (
		archived int
		errs     []error
	)
	for _, m := range markets {
		if !m.IsSettled() {
			continue
		}
		path, err := deps.Archiver.ArchiveSettlement(ctx, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := verifyArchive(ctx, deps.Archiver, m, path); err != nil {
			errs = append(errs, err)
			continue
		}
		archived++
		a.logger.DebugContext(ctx, "settlement archived",
			slog.String("market_id", m.ID),
			slog.String("path", path),
		)
	}
	a.logger.InfoContext(ctx, "archive complete",
		slog.Int("archived", archived),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// settlementLoader is implemented by archivers that can read an archive back.
type settlementLoader interface {
	LoadSettlement(ctx context.Context, path string) (s3blob.Settlement, error)
}

// verifyArchive reads the object at path back and checks that it decodes to
// the market it was written for.
func verifyArchive(ctx context.Context, archiver domain.Archiver, m domain.Market, path string) error {
	loader, ok := archiver.(settlementLoader)
	if !ok {
		return nil
	}
	s, err := loader.LoadSettlement(ctx, path)
	if err != nil {
		return fmt.Errorf("app: verify archive %s: %w", path, err)
	}
	if s.Market.ID != m.ID || s.Market.Status != m.Status {
		return fmt.Errorf("app: verify archive %s: holds market %s (%s), want %s (%s)",
			path, s.Market.ID, s.Market.Status, m.ID, m.Status)
	}
	return nil
}
