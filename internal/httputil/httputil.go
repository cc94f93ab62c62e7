// Package httputil provides the small set of HTTP response/request helpers
// shared by the broker and façade: JSON writers, the Google-style error
// envelope, and a body-size-limited JSON reader.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code and data,
// always marking the response as non-cacheable per §6.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// ErrorEnvelope is the Google-style error body every broker/façade error
// response shares: {error:{code,status,message,details}}.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the nested error payload.
type ErrorBody struct {
	Code    int      `json:"code"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// WriteError writes a plain {error:"message"} response, kept for simple
// legacy-route error replies that don't carry an RPC status.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// rpcStatuser is implemented by pkg/errors' typed errors.
type rpcStatuser interface {
	RPCStatus() string
	HTTPStatus() int
}

// WriteErrorEnvelope converts err into the Google-style error envelope and
// writes it with the matching HTTP status. Errors that don't implement
// rpcStatuser are treated as INTERNAL/500 — an unclassified error is always
// a bug, never something to guess a client-facing status for.
func WriteErrorEnvelope(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	rpcStatus := "INTERNAL"

	var rs rpcStatuser
	if as, ok := err.(rpcStatuser); ok {
		rs = as
	}
	if rs != nil {
		status = rs.HTTPStatus()
		rpcStatus = rs.RPCStatus()
	}

	WriteJSON(w, status, ErrorEnvelope{Error: ErrorBody{
		Code:    status,
		Status:  rpcStatus,
		Message: err.Error(),
		Details: []string{},
	}})
}

// DecodeJSONLimited reads r.Body with a hard cap of maxBytes and decodes it
// as JSON into v. Returns a *conductorerrors.PayloadTooLargeError when the
// body exceeds maxBytes (HTTP 413) and a *conductorerrors.ValidationError
// when it is present but malformed (HTTP 400) — both report INVALID_ARGUMENT
// at the RPC layer per §7, but only the oversize case maps to 413 per §4.4.
func DecodeJSONLimited(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &conductorerrors.PayloadTooLargeError{Limit: maxBytes}
		}
		return &conductorerrors.ValidationError{Message: "failed to read request body: " + err.Error()}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &conductorerrors.ValidationError{Message: "malformed JSON body: " + err.Error()}
	}
	return nil
}
