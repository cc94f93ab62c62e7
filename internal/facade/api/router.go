package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lumenops/tradingbroker/internal/httputil"
	"github.com/lumenops/tradingbroker/internal/log"
	"github.com/lumenops/tradingbroker/internal/tracing"
)

// RouterConfig holds the façade's per-request tuning knobs.
type RouterConfig struct {
	Version  string
	Project  string
	Location string

	// MaxBodyBytes bounds request bodies; 0 falls back to 1 MiB.
	MaxBodyBytes int64

	// ControlTokenConfigured reports whether OBS_CONTROL_TOKEN is set to a
	// value other than the documented dev default. /api/config does not
	// read it: its control_token_required flag is always true, and the
	// token itself is never returned.
	ControlTokenConfigured bool
}

// Router wraps an http.ServeMux with the façade's middleware chain, mirroring
// the broker router's shape.
type Router struct {
	mux    *http.ServeMux
	config RouterConfig
	logger *slog.Logger
	h      *handlers
}

// NewRouter builds the façade HTTP surface over svc, authenticating control
// routes with validator.
func NewRouter(cfg RouterConfig, svc *Service, validator *TokenValidator) *Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1048576
	}
	if cfg.Project == "" {
		cfg.Project = "local"
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}

	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: log.New(log.FromEnv()),
		h: &handlers{
			svc:                    svc,
			validator:              validator,
			maxBodyBytes:           cfg.MaxBodyBytes,
			project:                cfg.Project,
			location:               cfg.Location,
			controlTokenConfigured: cfg.ControlTokenConfigured,
		},
	}
	r.routes()
	return r
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /api/config", r.h.getConfig)

	r.mux.HandleFunc("GET /v1/projects/{project}/locations/{location}/workflows", r.h.listTraces)
	r.mux.HandleFunc("GET /v1/projects/{project}/locations/{location}/workflows/{id}", r.h.getTrace)
	r.mux.HandleFunc("POST /v1/projects/{project}/locations/{location}/workflows/{id}:execute", r.h.requireAuth(r.h.controlAction("execute")))
	r.mux.HandleFunc("POST /v1/projects/{project}/locations/{location}/workflows/{id}:cancel", r.h.requireAuth(r.h.controlAction("cancel")))
	r.mux.HandleFunc("POST /v1/projects/{project}/locations/{location}/workflows/{id}:hardCancel", r.h.requireAuth(r.h.controlAction("hardCancel")))
	r.mux.HandleFunc("POST /v1/projects/{project}/locations/{location}/services/{service}:stop", r.h.requireAuth(r.h.stopService))
	r.mux.HandleFunc("GET /v1/projects/{project}/locations/{location}/operations", r.h.listOperations)
	r.mux.HandleFunc("GET /v1/projects/{project}/locations/{location}/operations/{id}", r.h.getOperation)
}

// ServeHTTP wraps mux dispatch in the same correlation/tracing/logging
// middleware chain the broker router uses.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux

	innerHandler := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		correlationID := tracing.FromContextOrEmpty(req.Context())
		logger := log.WithCorrelationID(r.logger, string(correlationID))

		defer func() {
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		innerHandler.ServeHTTP(w, req)
	})

	handler = tracing.CorrelationMiddleware(handler)
	handler = tracing.TracingMiddleware(handler)
	handler = tracing.HTTPMiddleware(handler)

	handler.ServeHTTP(w, req)
}

// Mux returns the underlying ServeMux for registering additional routes
// (the metrics endpoint, in cmd/trace-api).
func (r *Router) Mux() *http.ServeMux { return r.mux }

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
