// Package server provides the stbemu admin HTTP server.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/HerbHall/stbemu/internal/registry"
	"github.com/HerbHall/stbemu/internal/version"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PluginSource provides the server with plugin metadata and routes.
// Satisfied by registry.Manager.
type PluginSource interface {
	Registry() *registry.Registry
	AllRoutes() map[string][]plugin.Route
}

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// RouteRegistrar lets other packages register API routes without creating
// import cycles (consumer-side interface).
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server is the stbemu admin HTTP server.
type Server struct {
	httpServer *http.Server
	plugins    PluginSource
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
	owners     map[string]string
}

var operationalPaths = []string{"/healthz", "/readyz", "/metrics"}

// New creates a new Server with middleware and routes. auth is optional;
// pass nil to serve the API unauthenticated.
func New(cfg Config, plugins PluginSource, logger *zap.Logger, ready ReadinessChecker, auth Middleware, routes ...RouteRegistrar) *Server {
	mux := http.NewServeMux()

	s := &Server{
		plugins: plugins,
		logger:  logger,
		mux:     mux,
		ready:   ready,
		owners:  make(map[string]string),
	}

	s.registerRoutes()
	for _, r := range routes {
		r.RegisterRoutes(mux)
	}
	s.mountPluginRoutes()

	rps, burst := cfg.RateLimit, cfg.RateBurst
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}

	// Middleware chain: outermost listed first.
	middlewares := []Middleware{
		requestIDMiddleware,
		recoveryMiddleware(logger),
		accessLogMiddleware(logger, operationalPaths),
		headersMiddleware,
		rateLimitMiddleware(rps, burst, operationalPaths),
	}
	if auth != nil {
		middlewares = append(middlewares, auth)
	}
	middlewares = append(middlewares, routeRecorder(s.owners))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      Chain(mux, middlewares...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the full handler including the middleware chain.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// registerRoutes sets up all core routes.
func (s *Server) registerRoutes() {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.HandleFunc("GET /api/v1/plugins/{id}", s.handlePlugin)
}

// mountPluginRoutes registers plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	allRoutes := s.plugins.AllRoutes()
	ids := make([]string, 0, len(allRoutes))
	for id := range allRoutes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, route := range allRoutes[id] {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, id, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.owners[pattern] = id
			s.logger.Debug("mounted route",
				zap.String("plugin", id),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz reports liveness: 200 whenever the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadyz checks readiness -- returns 200 if the server can serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version map[string]string `json:"version"`
	Plugins map[string]int    `json:"plugins"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	states := make(map[string]int)
	for _, e := range s.plugins.Registry().All("") {
		states[string(e.State())]++
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "stbemu",
		Version: version.Map(),
		Plugins: states,
	})
}

// handlePlugins lists registered plugins in discovery order. The optional
// "role" query parameter restricts the list to plugins declaring that role.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	entries := s.plugins.Registry().All(r.URL.Query().Get("role"))
	info := make([]registry.Info, 0, len(entries))
	for _, e := range entries {
		info = append(info, e.Info())
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePlugin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.plugins.Registry().ByID(id)
	if !ok {
		NotFound(w, "plugin not found: "+id, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, e.Info())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
