package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenops/tradingbroker/internal/facade/api"
	"github.com/lumenops/tradingbroker/internal/facade/auditlog"
	"github.com/lumenops/tradingbroker/internal/facade/ingest"
	"github.com/lumenops/tradingbroker/internal/facade/supervisor"
	"github.com/stretchr/testify/require"
)

// fakeBroker is a minimal stand-in for the broker's HTTP surface, just
// enough to exercise the façade's proxy and fused-read paths.
func fakeBroker(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/projects/local/locations/us-central1/workflows", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"workflows": []map[string]any{
				{"workflow_id": "wf-1", "trace_id": "wf-1", "source_bot": "weather-bot", "status": "awaiting_approval"},
			},
			"nextPageToken": "",
			"totalSize":     1,
		})
	})
	mux.HandleFunc("POST /v1/projects/local/locations/us-central1/workflows/wf-1:execute", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"name": "projects/local/locations/us-central1/operations/op-1",
			"done": true,
			"metadata": map[string]any{
				"action": "execute", "target": "workflows/wf-1", "createTime": time.Now().UTC(), "updateTime": time.Now().UTC(),
			},
			"response": map[string]any{"outcome": "execution_approved"},
		})
	})
	return httptest.NewServer(mux)
}

func newTestRouter(t *testing.T) (*api.Router, string) {
	t.Helper()
	broker := fakeBroker(t)
	t.Cleanup(broker.Close)

	dir := t.TempDir()
	tradesDir := filepath.Join(dir, "TRADES")
	scanner := ingest.NewScanner(tradesDir, nil)
	probe := supervisor.New(filepath.Join(dir, "pids"))
	audit := auditlog.Open(filepath.Join(dir, "control-audit.jsonl"))
	t.Cleanup(audit.Close)

	client := api.NewBrokerClient(broker.URL, "local", "us-central1")
	svc := api.NewService(client, scanner, probe, audit, "local", "us-central1")
	validator := api.NewTokenValidator("secret-token")
	t.Cleanup(validator.Close)

	router := api.NewRouter(api.RouterConfig{Version: "test", Project: "local", Location: "us-central1"}, svc, validator)
	return router, dir
}

func doReq(t *testing.T, router *api.Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetConfig_NeverLeaksToken(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doReq(t, router, "GET", "/api/config", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["control_token_required"])
	require.Nil(t, body["control_token_default"])
	require.NotContains(t, rec.Body.String(), "secret-token")
}

func TestControlAction_RequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doReq(t, router, "POST", "/v1/projects/local/locations/us-central1/workflows/wf-1:execute", "", map[string]string{"actor": "alice"})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestControlAction_WrongTokenIsRejected(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doReq(t, router, "POST", "/v1/projects/local/locations/us-central1/workflows/wf-1:execute", "wrong", map[string]string{"actor": "alice"})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestControlAction_CorrectTokenForwardsToBroker(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doReq(t, router, "POST", "/v1/projects/local/locations/us-central1/workflows/wf-1:execute", "secret-token", map[string]string{"actor": "alice", "reason": "manual approval"})

	require.Equal(t, http.StatusOK, rec.Code)
	var op map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	require.Equal(t, true, op["done"])
}

func TestStopService_RejectsNonSportsAgentTarget(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doReq(t, router, "POST", "/v1/projects/local/locations/us-central1/services/weather:stop", "secret-token", map[string]string{"actor": "alice"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "INVALID_ARGUMENT", env["error"]["status"])
}

func TestListTraces_FusesEventsAndBrokerWorkflows(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doReq(t, router, "GET", "/v1/projects/local/locations/us-central1/workflows", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	workflows, ok := body["workflows"].([]any)
	require.True(t, ok)
	require.Len(t, workflows, 1)
}
