// Package server exposes the engine over an HTTP JSON API. Every mutating
// route takes a signed envelope; the recovered signer is the caller.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/server/handler"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
	"github.com/alanyoungcy/bullbear/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminAPIKey guards /api/admin routes. Empty disables them.
	AdminAPIKey string
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
	// EnvelopeMaxTTL bounds how far ahead a signed envelope may expire.
	EnvelopeMaxTTL time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Protocol *handler.ProtocolHandler
	Game     *handler.GameHandler
	Round    *handler.RoundHandler
	Bet      *handler.BetHandler
	Ledger   *handler.LedgerHandler
}

// Deps are the shared services the middleware chain needs.
type Deps struct {
	Nonces  domain.NonceGuard
	Limiter domain.RateLimiter // may be nil
	Hub     *ws.Hub            // may be nil
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg Config, h Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, h, deps, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	env := middleware.NewEnvelopes(deps.Nonces, cfg.EnvelopeMaxTTL, logger)
	signed := func(pattern, action string, fn http.HandlerFunc) {
		mux.Handle(pattern, env.Require(action, fn))
	}
	admin := middleware.APIKey(cfg.AdminAPIKey)

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", h.Health.Ready)
	mux.HandleFunc("GET /api/status", h.Health.Status)

	// Protocol.
	signed("POST /api/protocols", "create_protocol", h.Protocol.Create)
	mux.HandleFunc("GET /api/protocols/{key}", h.Protocol.Get)
	signed("POST /api/protocols/{key}/withdraw", "withdraw_protocol_fees", h.Protocol.WithdrawFees)

	// Games.
	signed("POST /api/games", "create_game", h.Game.Create)
	mux.HandleFunc("GET /api/games/{key}", h.Game.Get)
	signed("POST /api/games/{key}/interval", "update_round_interval", h.Game.UpdateInterval)
	signed("POST /api/games/{key}/feed", "update_feed", h.Game.UpdateFeed)
	signed("POST /api/games/{key}/withdraw", "withdraw_game_funds", h.Game.WithdrawFunds)

	// Rounds.
	signed("POST /api/games/{key}/rounds", "create_round", h.Round.Create)
	signed("POST /api/games/{key}/rounds/current/start", "start_round", h.Round.Start)
	signed("POST /api/games/{key}/rounds/current/close", "close_betting", h.Round.CloseBetting)
	signed("POST /api/games/{key}/rounds/current/end", "end_round", h.Round.End)
	signed("POST /api/games/{key}/rounds/{number}/sweep", "sweep_round", h.Round.Sweep)
	mux.HandleFunc("GET /api/games/{key}/rounds", h.Round.List)
	mux.HandleFunc("GET /api/games/{key}/rounds/current", h.Round.Current)
	mux.HandleFunc("GET /api/games/{key}/rounds/{number}", h.Round.Get)
	mux.HandleFunc("GET /api/games/{key}/rounds/{number}/bets", h.Round.Bets)
	mux.HandleFunc("GET /api/games/{key}/rounds/{number}/bets/{player}", h.Bet.GetByPlayer)
	mux.HandleFunc("GET /api/games/{key}/rounds/{number}/receipt", h.Round.Receipt)
	mux.HandleFunc("GET /api/games/{key}/receipts", h.Round.Receipts)

	// Bets.
	signed("POST /api/bets", "place_bet", h.Bet.Place)
	mux.HandleFunc("GET /api/bets/{key}", h.Bet.Get)
	signed("POST /api/bets/{key}/claim", "claim_prize", h.Bet.Claim)

	// Ledger and oracle.
	mux.HandleFunc("GET /api/vaults/{id}", h.Ledger.Vault)
	mux.HandleFunc("GET /api/wallets/{owner}/{token}", h.Ledger.Wallet)
	mux.HandleFunc("GET /api/feeds/{id}", h.Ledger.Feed)

	// Operator.
	mux.Handle("POST /api/admin/deposits", admin(http.HandlerFunc(h.Ledger.Deposit)))
	mux.Handle("GET /api/admin/audit", admin(http.HandlerFunc(h.Ledger.Audit)))
	mux.Handle("GET /api/admin/ledger/{token}", admin(http.HandlerFunc(h.Ledger.Reconcile)))

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var root http.Handler = mux
	root = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)
	return root
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
