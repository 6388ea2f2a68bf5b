// Package api exposes the memory subsystem over HTTP: turn ingestion,
// session lifecycle, and recall queries.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/recall"
	"github.com/mnemo-ai/mnemo/internal/workingset"
)

// Server is the HTTP front door. It owns no state of its own; every
// handler delegates to the working-set manager, the episode store, or
// the recall engine.
type Server struct {
	sets     *workingset.Manager
	episodes memory.EpisodeStore
	engine   *recall.Engine
	router   *chi.Mux
	srv      *http.Server
	logger   *slog.Logger
}

// NewServer wires the routes. registry may be nil to disable /metrics.
func NewServer(sets *workingset.Manager, episodes memory.EpisodeStore, engine *recall.Engine, registry *prometheus.Registry, cfg config.HTTPConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8787"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		sets:     sets,
		episodes: episodes,
		engine:   engine,
		logger:   logger,
	}
	s.setupRouter(registry)
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRouter(registry *prometheus.Registry) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/sessions/{session}/turns", s.handleAppendTurn)
		r.Post("/sessions/{session}/end", s.handleEndSession)
		r.Get("/sessions/{session}/context", s.handleContext)
		r.Get("/sessions/{session}/episodes", s.handleEpisodes)
		r.Get("/status", s.handleStatus)
	})

	s.router = r
}

// Handler returns the route tree, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("api: listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Stop shuts the listener down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("api: shutting down")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
