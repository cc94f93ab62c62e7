package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenops/tradingbroker/internal/broker/operation"
	"github.com/lumenops/tradingbroker/internal/broker/workflow"
	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

const defaultBrokerTimeout = 10 * time.Second

// BrokerClient proxies control and read requests to the broker over plain
// HTTP. UNAVAILABLE is returned whenever the dial or round-trip itself
// fails — distinct from an error the broker returns deliberately, which is
// decoded from its own error envelope and passed through as-is.
type BrokerClient struct {
	baseURL  string
	project  string
	location string
	http     *http.Client
}

// NewBrokerClient builds a client bound to baseURL (e.g. http://127.0.0.1:8787).
func NewBrokerClient(baseURL, project, location string) *BrokerClient {
	return &BrokerClient{
		baseURL:  baseURL,
		project:  project,
		location: location,
		http:     &http.Client{Timeout: defaultBrokerTimeout},
	}
}

func (c *BrokerClient) resourcePath(suffix string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/%s", c.baseURL, c.project, c.location, suffix)
}

// do issues an HTTP request and decodes a JSON response into out (if
// non-nil), translating transport failures into UnavailableError and
// broker-reported error envelopes into the matching typed error.
func (c *BrokerClient) do(ctx context.Context, method, url string, body any, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, &conductorerrors.InternalError{Operation: "marshal broker request", Cause: err}
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, &conductorerrors.InternalError{Operation: "build broker request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &conductorerrors.UnavailableError{Service: "broker", Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var env struct {
			Error struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&env)
		msg := env.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("broker returned status %d", resp.StatusCode)
		}
		return resp.StatusCode, brokerError(resp.StatusCode, env.Error.Status, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &conductorerrors.InternalError{Operation: "decode broker response", Cause: err}
		}
	}
	return resp.StatusCode, nil
}

// brokerError reconstructs a typed error from the broker's RPC status so the
// façade's own error envelope reports the same classification the broker
// did, rather than collapsing everything to INTERNAL.
func brokerError(httpStatus int, rpcStatus, message string) error {
	switch rpcStatus {
	case "NOT_FOUND":
		return &conductorerrors.NotFoundError{Resource: "workflow", ID: message}
	case "INVALID_ARGUMENT":
		return &conductorerrors.ValidationError{Message: message}
	case "FAILED_PRECONDITION":
		return &conductorerrors.PreconditionError{Resource: "workflow", Reason: message}
	case "UNAUTHENTICATED":
		return &conductorerrors.UnauthenticatedError{Reason: message}
	default:
		return &conductorerrors.InternalError{Operation: "broker request", Cause: fmt.Errorf("%s", message)}
	}
}

// ListWorkflows fetches the broker's full workflow list, paginating until
// exhausted — the façade composes its own page window over fused traces, so
// it needs the complete authoritative set up front.
func (c *BrokerClient) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	var all []*workflow.Workflow
	token := ""
	for {
		url := c.resourcePath("workflows") + "?pageSize=1000"
		if token != "" {
			url += "&pageToken=" + token
		}
		var page struct {
			Workflows     []*workflow.Workflow `json:"workflows"`
			NextPageToken string               `json:"nextPageToken"`
		}
		if _, err := c.do(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Workflows...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	return all, nil
}

// GetWorkflow fetches a single workflow by id.
func (c *BrokerClient) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if _, err := c.do(ctx, http.MethodGet, c.resourcePath("workflows/"+id), nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// controlActionBody mirrors the broker's controlActionRequest body.
type controlActionBody struct {
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
	RequestID string `json:"requestId"`
}

// RunControlAction forwards execute/cancel/hardCancel to the broker, adding
// the x-observability-actor header per §4.7.
func (c *BrokerClient) RunControlAction(ctx context.Context, verb, id, actor, reason, requestID string) (*operation.Operation, int, error) {
	body := controlActionBody{Actor: actor, Reason: reason, RequestID: requestID}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, &conductorerrors.InternalError{Operation: "marshal control action", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resourcePath("workflows/"+id+":"+verb), bytes.NewReader(data))
	if err != nil {
		return nil, 0, &conductorerrors.InternalError{Operation: "build control action request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-observability-actor", actor)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &conductorerrors.UnavailableError{Service: "broker", Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var env struct {
			Error struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&env)
		msg := env.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("broker returned status %d", resp.StatusCode)
		}
		return nil, resp.StatusCode, brokerError(resp.StatusCode, env.Error.Status, msg)
	}

	var op operation.Operation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, resp.StatusCode, &conductorerrors.InternalError{Operation: "decode control action response", Cause: err}
	}
	return &op, resp.StatusCode, nil
}

// ListOperations fetches the broker's operation list.
func (c *BrokerClient) ListOperations(ctx context.Context) ([]*operation.Operation, error) {
	var page struct {
		Operations []*operation.Operation `json:"operations"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.resourcePath("operations")+"?pageSize=1000", nil, &page); err != nil {
		return nil, err
	}
	return page.Operations, nil
}

// GetOperation fetches a single broker-owned operation by id.
func (c *BrokerClient) GetOperation(ctx context.Context, id string) (*operation.Operation, error) {
	var op operation.Operation
	if _, err := c.do(ctx, http.MethodGet, c.resourcePath("operations/"+id), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}
