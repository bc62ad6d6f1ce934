package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allabud/auction-backend/internal/infrastructure/config"
)

// NewRouter assembles the mux: REST routes, the metrics endpoint, an
// optional websocket endpoint, and the middleware chain.
func NewRouter(h *Handler, ws http.Handler, rateLimitPerMinute int, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	h.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
	return Chain(mux,
		RequestID(),
		Recovery(logger),
		Logging(logger),
		Metrics(),
		RateLimit(rateLimitPerMinute, logger),
	)
}

// Server wraps http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
