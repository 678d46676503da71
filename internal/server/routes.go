package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/observability"
	"github.com/catalogsync/catalogsync/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.deps.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	sync := s.deps.Sync
	s.router.Route("/sync", func(r chi.Router) {
		r.Get("/status", sync.Status)
		r.Get("/runs", sync.ListRuns)
		r.Post("/trigger", sync.Trigger)
	})

	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes POST /admin/signal behind a bearer token.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.deps.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token configured)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.deps.AdminToken,
		RateLimit: 10,  // requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // default global manager
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
