package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/config"
	apperrors "github.com/catalogsync/catalogsync/internal/errors"
	"github.com/catalogsync/catalogsync/internal/observability"
	"github.com/catalogsync/catalogsync/internal/server/handlers"
	servermw "github.com/catalogsync/catalogsync/internal/server/middleware"
)

// Dependencies are the components the HTTP surface reports on.
type Dependencies struct {
	Health *handlers.HealthManager
	Sync   *handlers.SyncHandlers

	// AdminToken enables POST /admin/signal when set.
	AdminToken string
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
	deps   Dependencies
}

// New creates a new HTTP server instance
func New(cfg config.ServerConfig, deps Dependencies) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	if deps.Health == nil {
		deps.Health = handlers.NewHealthManager(handlers.AppVersion)
	}
	if deps.Sync == nil {
		deps.Sync = &handlers.SyncHandlers{}
	}

	s := &Server{
		router: r,
		cfg:    cfg,
		deps:   deps,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Addr is the listen address built from host and port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
}

// Start listens and serves until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  durationOr(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(s.cfg.IdleTimeout, 120*time.Second),
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.cfg.Host),
			zap.Int("port", s.cfg.Port),
			zap.String("addr", s.server.Addr))
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the health manager backing the /health endpoints.
func (s *Server) Health() *handlers.HealthManager {
	return s.deps.Health
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
