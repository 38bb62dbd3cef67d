// Package server implements the control plane's REST surface: submit
// user intent, read a device's twin snapshot, manage functional systems,
// and apply/cancel overrides at device or system scope. Routing uses the
// stdlib http.ServeMux with Go 1.22 "METHOD /pattern" patterns, no router
// library, and inbound payloads are validated at the boundary with
// go-playground/validator/v10.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthctl/hearthctl/internal/healthgate"
	"github.com/hearthctl/hearthctl/internal/overridepipeline"
	"github.com/hearthctl/hearthctl/internal/reconcile"
	"github.com/hearthctl/hearthctl/internal/system"
	"github.com/hearthctl/hearthctl/internal/twin"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Server holds every collaborator the REST handlers need. It is built
// once at startup and its Handler() mounted into an *http.Server.
type Server struct {
	twins        *twin.Store
	systems      *system.Registry
	coordinator  *reconcile.Coordinator
	overrides    *overridepipeline.Pipeline
	health       *healthgate.Gate
	logger       *slog.Logger
}

// New builds a Server over its collaborators. health may be nil, in which
// case /healthz and /readyz report healthy unconditionally.
func New(twins *twin.Store, systems *system.Registry, coordinator *reconcile.Coordinator, overrides *overridepipeline.Pipeline, health *healthgate.Gate, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		twins:       twins,
		systems:     systems,
		coordinator: coordinator,
		overrides:   overrides,
		health:      health,
		logger:      logger,
	}
}

// Handler builds the routed, logged http.Handler for this server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /devices/{controllerId}/{componentId}/intent", s.handleSubmitIntent)
	mux.HandleFunc("GET /devices/{controllerId}/{componentId}/twin", s.handleGetTwin)
	mux.HandleFunc("PUT /devices/{controllerId}/{componentId}/override/{category}", s.handlePutDeviceOverride)
	mux.HandleFunc("DELETE /devices/{controllerId}/{componentId}/override/{category}", s.handleDeleteDeviceOverride)

	mux.HandleFunc("POST /v1/systems", s.handleCreateSystem)
	mux.HandleFunc("GET /v1/systems", s.handleListSystems)
	mux.HandleFunc("GET /v1/systems/{id}", s.handleGetSystem)
	mux.HandleFunc("PATCH /v1/systems/{id}/configuration", s.handlePatchSystemConfiguration)
	mux.HandleFunc("PUT /v1/systems/{id}/override/{category}", s.handlePutSystemOverride)
	mux.HandleFunc("DELETE /v1/systems/{id}/override/{category}", s.handleDeleteSystemOverride)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withLogging(mux)
}

// withLogging logs method, path, status and duration for every request,
// matching the slog-everywhere house style rather than introducing a
// middleware library.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
