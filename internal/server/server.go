// Package server exposes the marketplace over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/royaltymarket/internal/crypto"
	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/server/handler"
	"github.com/alanyoungcy/royaltymarket/internal/server/middleware"
	"github.com/alanyoungcy/royaltymarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route but the health check; empty disables it.
	APIKey string
	// RequireSignatures rejects requests naming an X-Account without an
	// EIP-191 signature.
	RequireSignatures bool
	SignatureMaxAge   time.Duration
	RateLimit         int
	RateWindow        time.Duration
}

// Handlers aggregates the HTTP handlers. Events and Payouts are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Market  *handler.MarketHandler
	Events  *handler.EventHandler
	Payouts *handler.PayoutHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in the middleware chain. limiter
// and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // buys on a chain registry wait for confirmations
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

// Routes builds the full handler tree.
func Routes(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	m := handlers.Market
	mux.HandleFunc("POST /api/listings", m.CreateListing)
	mux.HandleFunc("GET /api/listings", m.ListListings)
	mux.HandleFunc("GET /api/listings/current", m.CurrentListingID)
	mux.HandleFunc("GET /api/listings/{id}", m.GetListing)
	mux.HandleFunc("POST /api/listings/{id}/buy", m.Buy)
	mux.HandleFunc("DELETE /api/listings/{id}", m.CancelListing)
	mux.HandleFunc("PUT /api/royalties/{registry}/{asset_id}", m.SetRoyalty)
	mux.HandleFunc("GET /api/royalties/{registry}/{asset_id}", m.GetRoyalty)
	mux.HandleFunc("GET /api/earnings/{party}", m.GetEarnings)
	mux.HandleFunc("POST /api/earnings/withdraw", m.Withdraw)

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.Replay)
	}
	if handlers.Payouts != nil {
		mux.HandleFunc("GET /api/payouts", handlers.Payouts.ListPending)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Caller(crypto.NewRequestVerifier(cfg.SignatureMaxAge), cfg.RequireSignatures)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
