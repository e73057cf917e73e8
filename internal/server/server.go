// Package server hosts the HTTP transport: the MCP endpoint plus health,
// version, stats and metrics routes on a chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tickerlens/tickerlens/internal/config"
	apperrors "github.com/tickerlens/tickerlens/internal/errors"
	"github.com/tickerlens/tickerlens/internal/observability"
	"github.com/tickerlens/tickerlens/internal/server/handlers"
	servermw "github.com/tickerlens/tickerlens/internal/server/middleware"
)

// MCPPath is where the MCP endpoint is mounted.
const MCPPath = "/mcp"

// Server represents the HTTP server
type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	server *http.Server

	mcp        http.Handler
	ingress    *servermw.Ingress
	health     *handlers.HealthManager
	version    handlers.VersionInfo
	stats      http.Handler
	adminToken string
}

// Option configures a Server.
type Option func(*Server)

// WithMCP mounts the MCP handler at MCPPath.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithIngress guards the MCP endpoint with g.
func WithIngress(g *servermw.Ingress) Option {
	return func(s *Server) { s.ingress = g }
}

// WithHealth serves the health endpoints from hm.
func WithHealth(hm *handlers.HealthManager) Option {
	return func(s *Server) { s.health = hm }
}

// WithVersion sets the build info served on /version.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithStats serves h on /stats.
func WithStats(h http.Handler) Option {
	return func(s *Server) { s.stats = h }
}

// WithAdminToken enables the admin signal endpoint behind a bearer token.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// New creates a new HTTP server instance
func New(cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{cfg: cfg, version: handlers.VersionInfo{Name: config.AppName, Version: "dev"}}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = handlers.NewHealthManager(s.version.Version, HandleError)
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s.router = r
	s.registerRoutes()
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	observability.Logger().Info("Starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("mcp_path", MCPPath))

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}
