// Package server is the headless HTTP control surface for the trading
// engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kvasirlabs/cyclearb/internal/server/handler"
	"github.com/kvasirlabs/cyclearb/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Control *handler.ControlHandler
	PnL     *handler.PnLHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (logging, CORS, auth) applied.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Engine control surface.
	mux.HandleFunc("GET /api/status", handlers.Control.GetStatus)
	mux.HandleFunc("POST /api/start", handlers.Control.Start)
	mux.HandleFunc("POST /api/stop", handlers.Control.Stop)
	mux.HandleFunc("POST /api/emergency-stop", handlers.Control.EmergencyStop)
	mux.HandleFunc("PUT /api/risk-level", handlers.Control.SetRiskLevel)

	// Ledger views.
	mux.HandleFunc("GET /api/pnl/history", handlers.PnL.History)
	mux.HandleFunc("GET /api/pnl/strategies", handlers.PnL.StrategyStats)
	mux.HandleFunc("GET /api/stuck-assets", handlers.PnL.StuckAssets)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
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
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
