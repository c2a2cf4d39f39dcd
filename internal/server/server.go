// Package server exposes the bet lifecycle over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/server/handler"
	"github.com/alanyoungcy/friendbet/internal/server/middleware"
	"github.com/alanyoungcy/friendbet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	APIKey         string        // if empty, the operator key gate is disabled
	SignatureSkew  time.Duration // accepted X-Timestamp drift
	RateLimit      int           // requests per RateWindow per client; 0 disables
	RateWindow     time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MetricsEnabled bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Bets        *handler.BetHandler
	Wallets     *handler.WalletHandler
	Settlements *handler.SettlementHandler
	Metrics     http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	replay     *middleware.ReplayGuard
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if cfg.SignatureSkew <= 0 {
		cfg.SignatureSkew = 5 * time.Minute
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	logger = logger.With(slog.String("component", "http"))

	s := &Server{
		replay: middleware.NewReplayGuard(2 * cfg.SignatureSkew),
		logger: logger,
	}

	var h http.Handler = Routes(handlers, wsHub)

	// Innermost first: rate limiting needs the caller set by Identity.
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Identity(cfg.SignatureSkew, s.replay, nil)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(middleware.NewOriginPolicy(cfg.CORSOrigins))(h)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes registers every endpoint on a fresh mux.
func Routes(handlers Handlers, wsHub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.InitializeMarket)
	mux.HandleFunc("GET /api/markets/{market}", handlers.Markets.GetMarket)

	mux.HandleFunc("GET /api/markets/{market}/bets", handlers.Bets.ListBets)
	mux.HandleFunc("POST /api/markets/{market}/bets", handlers.Bets.CreateBet)
	mux.HandleFunc("POST /api/markets/{market}/bets/for-user", handlers.Bets.CreateBetForUser)
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("POST /api/bets/{id}/fund", handlers.Bets.FundBet)
	mux.HandleFunc("POST /api/bets/{id}/match", handlers.Bets.MatchBet)
	mux.HandleFunc("POST /api/bets/{id}/settle", handlers.Bets.SettleBet)
	mux.HandleFunc("POST /api/bets/{id}/claim", handlers.Bets.ClaimFunds)
	mux.HandleFunc("POST /api/bets/{id}/close", handlers.Bets.CloseBet)

	mux.HandleFunc("GET /api/wallets/{address}", handlers.Wallets.GetBalance)
	mux.HandleFunc("POST /api/wallets/{address}/credit", handlers.Wallets.Credit)

	mux.HandleFunc("GET /api/settlements", handlers.Settlements.ListSettlements)

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully. It also
// prunes the signature replay guard.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case now := <-ticker.C:
			s.replay.Cleanup(now)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.Shutdown(shutdownCtx)
		}
	}
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
