package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/lumenops/tradingbroker/internal/facade/fusion"
	"github.com/lumenops/tradingbroker/internal/httputil"
	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

type handlers struct {
	svc       *Service
	validator *TokenValidator

	maxBodyBytes           int64
	project                string
	location               string
	controlTokenConfigured bool
}

const defaultPageSize = 200

func clampPageSize(raw string) int {
	if raw == "" {
		return defaultPageSize
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultPageSize
	}
	if n > 1000 {
		return 1000
	}
	return n
}

func parsePageToken(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func nextPageToken(offset, returned, total int) string {
	next := offset + returned
	if next >= total || returned == 0 {
		return ""
	}
	return strconv.Itoa(next)
}

func writeErr(w http.ResponseWriter, err error) {
	httputil.WriteErrorEnvelope(w, err)
}

// getConfig is public and must never leak OBS_CONTROL_TOKEN, per §4.7.
func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"control_token_required": true,
		"control_token_default":  nil,
		"project":                h.project,
		"location":               h.location,
	})
}

// bearerToken extracts the control token from either the standard
// Authorization header or the X-Observability-Control-Token alternate,
// per §6.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return after
		}
	}
	return r.Header.Get("X-Observability-Control-Token")
}

// requireAuth wraps next so it only runs once the caller presents a valid
// control token; otherwise it writes an UNAUTHENTICATED envelope.
func (h *handlers) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if err := h.validator.Validate(token, r.RemoteAddr); err != nil {
			writeErr(w, &conductorerrors.UnauthenticatedError{Reason: err.Error()})
			return
		}
		next(w, r)
	}
}

func (h *handlers) listTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := h.svc.Traces(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	pageSize := clampPageSize(r.URL.Query().Get("pageSize"))
	offset := parsePageToken(r.URL.Query().Get("pageToken"))
	total := len(traces)
	end := offset + pageSize
	if offset >= total {
		traces = []*fusion.Trace{}
	} else {
		if end > total {
			end = total
		}
		traces = traces[offset:end]
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"workflows":     traces,
		"nextPageToken": nextPageToken(offset, len(traces), total),
		"totalSize":     total,
	})
}

func (h *handlers) getTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	traces, err := h.svc.Traces(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, t := range traces {
		if t.TraceID == id || t.WorkflowID == id {
			httputil.WriteJSON(w, http.StatusOK, t)
			return
		}
	}
	writeErr(w, &conductorerrors.NotFoundError{Resource: "workflow", ID: id})
}

type controlActionRequest struct {
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
	RequestID string `json:"requestId"`
}

// controlAction returns a handler proxying verb (execute/cancel/hardCancel)
// to the broker.
func (h *handlers) controlAction(verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req controlActionRequest
		if err := httputil.DecodeJSONLimited(w, r, h.maxBodyBytes, &req); err != nil {
			writeErr(w, err)
			return
		}

		result, err := h.svc.RunControlAction(r.Context(), verb, r.PathValue("id"), req.Actor, req.Reason, req.RequestID)
		if err != nil {
			writeErr(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result.Operation)
	}
}

func (h *handlers) stopService(w http.ResponseWriter, r *http.Request) {
	var req controlActionRequest
	if err := httputil.DecodeJSONLimited(w, r, h.maxBodyBytes, &req); err != nil {
		writeErr(w, err)
		return
	}

	op, err := h.svc.StopService(r.PathValue("service"), req.Actor, req.Reason, req.RequestID)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, op)
}

func (h *handlers) listOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.svc.ListOperations(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	pageSize := clampPageSize(r.URL.Query().Get("pageSize"))
	offset := parsePageToken(r.URL.Query().Get("pageToken"))
	total := len(ops)
	end := offset + pageSize
	if offset >= total {
		ops = []*MergedOperation{}
	} else {
		if end > total {
			end = total
		}
		ops = ops[offset:end]
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"operations":    ops,
		"nextPageToken": nextPageToken(offset, len(ops), total),
		"totalSize":     total,
	})
}

func (h *handlers) getOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.svc.GetOperation(r.Context(), r.PathValue("project"), r.PathValue("location"), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, op)
}
