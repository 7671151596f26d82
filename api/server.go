// Package api serves the chat, dashboard and WebSocket endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/analyst/api/handlers"
	"github.com/malbeclabs/analyst/api/metrics"
)

const (
	defaultAddr            = ":8000"
	defaultShutdownTimeout = 30 * time.Second
)

var DefaultAllowedOrigins = []string{"http://localhost:3000"}

type Config struct {
	Logger          *slog.Logger
	Handlers        *handlers.Handlers
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Handlers == nil {
		return errors.New("handlers are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = DefaultAllowedOrigins
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}

// NewRouter wires every route.
func NewRouter(h *handlers.Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/api/chat", h.Chat)
	r.Get("/api/chat/history", h.History)
	r.Get("/api/dashboard/metrics", h.DashboardMetrics)
	r.Get("/api/dashboard/preview", h.DashboardPreview)
	r.Get("/ws/chat", h.WebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type Server struct {
	log    *slog.Logger
	cfg    *Config
	server *http.Server
}

func NewServer(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		log: cfg.Logger,
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg.Handlers, cfg.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("api: server starting", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.log.Info("api: server stopped")
	return nil
}
