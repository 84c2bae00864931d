package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/server/handler"
	"github.com/alanyoungcy/predictex/internal/server/middleware"
	"github.com/alanyoungcy/predictex/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	OperatorKeyHash string // bcrypt hash of the operator API key
	RateLimit       int    // requests per RateWindow per user; 0 disables
	RateWindow      time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Trades   *handler.TradeHandler
	Orders   *handler.OrderHandler
	Accounts *handler.AccountHandler
	Admin    *handler.AdminHandler
}

// Server is the HTTP + WebSocket API of the exchange.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Public routes need no credentials, user routes need an X-User-ID header
// and are rate limited, operator routes need the operator key.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	limiter domain.RateLimiter,
	metricsHandler http.Handler,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	window := cfg.RateWindow
	if window <= 0 {
		window = time.Second
	}
	user := chain(middleware.Identity(), middleware.RateLimit(limiter, cfg.RateLimit, window, logger))
	operator := middleware.OperatorAuth(cfg.OperatorKeyHash)

	// Public.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/book", handlers.Markets.GetBook)
	mux.HandleFunc("GET /api/markets/{id}/prices", handlers.Markets.GetPrices)
	mux.HandleFunc("GET /api/markets/{id}/fills", handlers.Markets.ListFills)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Markets.ListTrades)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// User.
	mux.Handle("POST /api/markets/{id}/buy", user(http.HandlerFunc(handlers.Trades.Buy)))
	mux.Handle("POST /api/markets/{id}/sell", user(http.HandlerFunc(handlers.Trades.Sell)))
	mux.Handle("POST /api/markets/{id}/orders", user(http.HandlerFunc(handlers.Orders.PlaceOrder)))
	mux.Handle("GET /api/orders", user(http.HandlerFunc(handlers.Orders.ListOrders)))
	mux.Handle("DELETE /api/orders/{id}", user(http.HandlerFunc(handlers.Orders.CancelOrder)))
	mux.Handle("GET /api/account", user(http.HandlerFunc(handlers.Accounts.Account)))

	// Operator.
	mux.Handle("POST /api/markets", operator(http.HandlerFunc(handlers.Admin.CreateMarket)))
	mux.Handle("POST /api/markets/{id}/close", operator(http.HandlerFunc(handlers.Admin.CloseMarket)))
	mux.Handle("POST /api/markets/{id}/resolve", operator(http.HandlerFunc(handlers.Admin.Resolve)))
	mux.Handle("POST /api/markets/{id}/cancel", operator(http.HandlerFunc(handlers.Admin.CancelMarket)))
	mux.Handle("POST /api/accounts/{user}/deposit", operator(http.HandlerFunc(handlers.Accounts.Deposit)))
	mux.Handle("POST /api/accounts/{user}/withdraw", operator(http.HandlerFunc(handlers.Accounts.Withdraw)))

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// chain composes middleware so the first one runs outermost.
func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
