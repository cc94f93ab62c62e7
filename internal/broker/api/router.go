// Package api implements the broker's HTTP surface: the Google-style
// resource routes plus the legacy compatibility routes bots still speak.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lumenops/tradingbroker/internal/httputil"
	"github.com/lumenops/tradingbroker/internal/log"
	"github.com/lumenops/tradingbroker/internal/tracing"
)

// RouterConfig holds build/version metadata surfaced by /v1/version.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string

	// Project and Location default the resource-name segments when a
	// legacy route is asked to synthesize a V1-shaped resource.
	Project  string
	Location string

	// MaxBodyBytes bounds request bodies; 0 falls back to 1 MiB.
	MaxBodyBytes int64
}

// Router wraps an http.ServeMux with the broker's middleware chain.
type Router struct {
	mux    *http.ServeMux
	config RouterConfig
	logger *slog.Logger
	h      *handlers
}

// NewRouter builds the broker HTTP surface over the given Service.
func NewRouter(cfg RouterConfig, svc *Service) *Router {
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
		h:      &handlers{svc: svc, maxBodyBytes: cfg.MaxBodyBytes, project: cfg.Project, location: cfg.Location},
	}
	r.routes()
	return r
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.HandleFunc("GET /", r.handleRoot)

	r.mux.HandleFunc("GET /v1/projects/{project}/locations/{location}/workflows", r.h.listWorkflows)
	r.mux.HandleFunc("GET /v1/projects/{project}/locations/{location}/workflows/{id}", r.h.getWorkflow)
	r.mux.HandleFunc("POST /v1/projects/{project}/locations/{location}/workflows/{id}:execute", r.h.executeWorkflow)
	r.mux.HandleFunc("POST /v1/projects/{project}/locations/{location}/workflows/{id}:cancel", r.h.cancelWorkflow)
	r.mux.HandleFunc("POST /v1/projects/{project}/locations/{location}/workflows/{id}:hardCancel", r.h.hardCancelWorkflow)
	r.mux.HandleFunc("GET /v1/projects/{project}/locations/{location}/operations", r.h.listOperations)
	r.mux.HandleFunc("GET /v1/projects/{project}/locations/{location}/operations/{id}", r.h.getOperation)

	r.mux.HandleFunc("POST /research/start", r.h.legacyResearchStart)
	r.mux.HandleFunc("GET /research/{id}", r.h.legacyResearchGet)
	r.mux.HandleFunc("POST /workflows/register", r.h.legacyRegister)
	r.mux.HandleFunc("GET /workflows/{id}", r.h.legacyGet)
	r.mux.HandleFunc("POST /workflows/{id}/complete", r.h.legacyComplete)
	r.mux.HandleFunc("POST /workflows/{id}/events", r.h.legacyAppendEvent)
	r.mux.HandleFunc("POST /execution/{id}/approve", r.h.legacyApprove)
	r.mux.HandleFunc("GET /execution/{id}/approval", r.h.legacyApprovalStatus)
}

// ServeHTTP implements http.Handler, wrapping mux dispatch in the same
// trace-context-extraction, span-creation, correlation, request-logging
// chain the rest of the module uses.
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
// (the metrics endpoint, in cmd/broker).
func (r *Router) Mux() *http.ServeMux { return r.mux }

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "tradingbroker",
		"version": r.config.Version,
	})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"version":    r.config.Version,
		"commit":     r.config.Commit,
		"build_date": r.config.BuildDate,
	})
}
