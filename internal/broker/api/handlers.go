package api

import (
	"net/http"
	"strconv"

	"github.com/lumenops/tradingbroker/internal/broker/operation"
	"github.com/lumenops/tradingbroker/internal/httputil"
	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

type handlers struct {
	svc          *Service
	maxBodyBytes int64
	project      string
	location     string
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

// nextPageToken returns the token for the page after [offset, offset+len),
// or "" once total is exhausted.
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

// --- Google-style V1 routes ---

func (h *handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := ParseFilter(r.URL.Query().Get("filter"))
	pageSize := clampPageSize(r.URL.Query().Get("pageSize"))
	offset := parsePageToken(r.URL.Query().Get("pageToken"))

	items, total := h.svc.ListWorkflows(filter, pageSize, offset)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"workflows":     items,
		"nextPageToken": nextPageToken(offset, len(items), total),
		"totalSize":     total,
	})
}

func (h *handlers) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.GetWorkflow(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

type controlActionRequest struct {
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
	RequestID string `json:"requestId"`
}

func (h *handlers) decodeControlAction(w http.ResponseWriter, r *http.Request) (controlActionRequest, bool) {
	var req controlActionRequest
	if err := httputil.DecodeJSONLimited(w, r, h.maxBodyBytes, &req); err != nil {
		writeErr(w, err)
		return req, false
	}
	return req, true
}

func (h *handlers) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeControlAction(w, r)
	if !ok {
		return
	}
	op, err := h.svc.Execute(r.PathValue("project"), r.PathValue("location"), r.PathValue("id"), req.Actor, req.Reason, req.RequestID)
	h.writeOperationResult(w, op, err)
}

func (h *handlers) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeControlAction(w, r)
	if !ok {
		return
	}
	op, err := h.svc.Cancel(r.PathValue("project"), r.PathValue("location"), r.PathValue("id"), req.Actor, req.Reason, req.RequestID)
	h.writeOperationResult(w, op, err)
}

func (h *handlers) hardCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeControlAction(w, r)
	if !ok {
		return
	}
	op, err := h.svc.HardCancel(r.PathValue("project"), r.PathValue("location"), r.PathValue("id"), req.Actor, req.Reason, req.RequestID)
	h.writeOperationResult(w, op, err)
}

// writeOperationResult returns the completed Operation regardless of
// whether the underlying control action itself was rejected — a rejected
// action still produces a done Operation carrying the error, matching
// §4.3's "created pending → completed (ok or error) in a single transition".
// Only when no Operation could be minted at all (err with op == nil) does
// this report as an HTTP-level error.
func (h *handlers) writeOperationResult(w http.ResponseWriter, op *operation.Operation, err error) {
	if op == nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, op)
}

func (h *handlers) listOperations(w http.ResponseWriter, r *http.Request) {
	pageSize := clampPageSize(r.URL.Query().Get("pageSize"))
	offset := parsePageToken(r.URL.Query().Get("pageToken"))

	items, total := h.svc.ListOperations(pageSize, offset)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"operations":    items,
		"nextPageToken": nextPageToken(offset, len(items), total),
		"totalSize":     total,
	})
}

func (h *handlers) getOperation(w http.ResponseWriter, r *http.Request) {
	name := "projects/" + r.PathValue("project") + "/locations/" + r.PathValue("location") + "/operations/" + r.PathValue("id")
	op, err := h.svc.GetOperation(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, op)
}

// --- Legacy routes ---

type legacyRegisterRequest struct {
	WorkflowID       string `json:"workflow_id"`
	TraceID          string `json:"trace_id"`
	SourceBot        string `json:"source_bot"`
	Mode             string `json:"mode"`
	RequiresApproval bool   `json:"requires_approval"`
	Status           string `json:"status"`
	Recommendation   any    `json:"recommendation"`
	Input            any    `json:"input"`
}

func (req legacyRegisterRequest) toUpsertPayload() UpsertPayload {
	return UpsertPayload{
		WorkflowID:       req.WorkflowID,
		TraceID:          req.TraceID,
		SourceBot:        req.SourceBot,
		Mode:             req.Mode,
		RequiresApproval: req.RequiresApproval,
		HasStatus:        req.Status != "",
		Status:           req.Status,
		Recommendation:   req.Recommendation,
		Input:            req.Input,
	}
}

func (h *handlers) legacyResearchStart(w http.ResponseWriter, r *http.Request) {
	h.legacyRegister(w, r)
}

func (h *handlers) legacyResearchGet(w http.ResponseWriter, r *http.Request) {
	h.legacyGet(w, r)
}

func (h *handlers) legacyRegister(w http.ResponseWriter, r *http.Request) {
	var req legacyRegisterRequest
	if err := httputil.DecodeJSONLimited(w, r, h.maxBodyBytes, &req); err != nil {
		writeErr(w, err)
		return
	}
	wf, err := h.svc.Upsert(req.toUpsertPayload())
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

func (h *handlers) legacyGet(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.GetWorkflow(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

type legacyCompleteRequest struct {
	Status string `json:"status"`
	Result any    `json:"result"`
}

func (h *handlers) legacyComplete(w http.ResponseWriter, r *http.Request) {
	var req legacyCompleteRequest
	if err := httputil.DecodeJSONLimited(w, r, h.maxBodyBytes, &req); err != nil {
		writeErr(w, err)
		return
	}
	wf, err := h.svc.Complete(r.PathValue("id"), req.Status, req.Result)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

type legacyEventRequest struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

func (h *handlers) legacyAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req legacyEventRequest
	if err := httputil.DecodeJSONLimited(w, r, h.maxBodyBytes, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Kind == "" {
		writeErr(w, &conductorerrors.ValidationError{Field: "kind", Message: "event kind is required"})
		return
	}
	wf, err := h.svc.AppendEvent(r.PathValue("id"), req.Kind, req.Payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

// legacyApprove maps to execute() when the workflow is awaiting_approval,
// per §4.4's documented legacy-compatibility shim.
func (h *handlers) legacyApprove(w http.ResponseWriter, r *http.Request) {
	var req controlActionRequest
	if err := httputil.DecodeJSONLimited(w, r, h.maxBodyBytes, &req); err != nil {
		writeErr(w, err)
		return
	}

	op, err := h.svc.Execute(h.project, h.location, r.PathValue("id"), req.Actor, req.Reason, req.RequestID)
	h.writeOperationResult(w, op, err)
}

func (h *handlers) legacyApprovalStatus(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.GetWorkflow(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   wf.Status,
		"approval": wf.Approval,
	})
}
