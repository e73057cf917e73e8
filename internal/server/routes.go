package server

import (
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/tickerlens/tickerlens/internal/observability"
	"github.com/tickerlens/tickerlens/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.Probe("live", 2*time.Second))
	s.router.Get("/health/ready", s.health.Probe("ready", 5*time.Second))
	s.router.Get("/health/startup", s.health.Probe("startup", 3*time.Second))

	s.router.Get("/version", handlers.Version(s.version))
	s.router.Get("/metrics", MetricsHandler)

	if s.stats != nil {
		s.router.Method(http.MethodGet, "/stats", s.stats)
	}

	if s.mcp != nil {
		mcp := s.mcp
		if s.ingress != nil {
			mcp = s.ingress.Handler(mcp)
		}
		s.router.Method(http.MethodPost, MCPPath, mcp)
		s.router.Method(http.MethodDelete, MCPPath, mcp)
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes gofulmen signal control (shutdown, reload)
// when an admin token is configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.Logger()
	if s.adminToken == "" {
		logger.Debug("Admin signal endpoint disabled (no admin token set)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("rate_limit", "10/min, burst 5"))
	logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
