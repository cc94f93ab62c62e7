// Package api implements the control façade's HTTP surface: authenticated
// proxying of control actions to the broker, fused read endpoints, and the
// one locally-owned long-running operation (services/sports-agent:stop).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenops/tradingbroker/internal/broker/operation"
	"github.com/lumenops/tradingbroker/internal/facade/auditlog"
	"github.com/lumenops/tradingbroker/internal/facade/fusion"
	"github.com/lumenops/tradingbroker/internal/facade/ingest"
	"github.com/lumenops/tradingbroker/internal/facade/supervisor"
	"github.com/lumenops/tradingbroker/internal/tracing"
	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

// Service is the façade's domain layer: it owns the broker client, the
// trade-event scanner, the process supervisor probe, its own local
// operation registry, and the control-audit writer. Kept independent of
// net/http so tests and the router share identical logic.
type Service struct {
	Broker     *BrokerClient
	Scanner    *ingest.Scanner
	Supervisor *supervisor.Probe
	Ops        operation.Store
	Audit      *auditlog.Writer
	Metrics    *tracing.MetricsCollector

	project  string
	location string
	logger   *slog.Logger
}

// NewService wires the façade's domain dependencies together.
func NewService(broker *BrokerClient, scanner *ingest.Scanner, probe *supervisor.Probe, audit *auditlog.Writer, project, location string) *Service {
	return &Service{
		Broker:     broker,
		Scanner:    scanner,
		Supervisor: probe,
		Ops:        operation.NewMemoryStore(),
		Audit:      audit,
		project:    project,
		location:   location,
		logger:     slog.Default(),
	}
}

// SetMetrics wires a metrics collector for control-action, fusion-merge, and
// local operation-registry instrumentation. A nil collector (the default)
// makes recording a no-op.
func (s *Service) SetMetrics(mc *tracing.MetricsCollector) {
	s.Metrics = mc
	if mc != nil {
		mc.SetOperationCounter(s)
	}
}

// OperationCount implements tracing.OperationCounter over the façade's
// locally-owned operation registry.
func (s *Service) OperationCount() int {
	return len(s.Ops.List())
}

// Traces composes the fused trace list: scans the trade journal, fetches
// authoritative broker workflows, and merges them with runtime-state
// annotation — the façade's core read path (§4.6).
func (s *Service) Traces(ctx context.Context) ([]*fusion.Trace, error) {
	events, err := s.Scanner.Scan()
	if err != nil {
		return nil, &conductorerrors.InternalError{Operation: "scan trade journal", Cause: err}
	}

	workflows, err := s.Broker.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}

	runtimeState := func(bot string) string {
		service := supervisor.ServiceForBot(bot)
		if service == "" {
			return "UNKNOWN"
		}
		return string(s.Supervisor.RuntimeState(service))
	}

	start := time.Now()
	traces := fusion.Merge(events, workflows, runtimeState)
	if s.Metrics != nil {
		s.Metrics.RecordFusionMerge(ctx, time.Since(start), len(traces))
	}
	return traces, nil
}

// ControlActionResult is the outcome of a proxied execute/cancel/hardCancel
// call, carrying enough detail for both the HTTP response and the audit
// line.
type ControlActionResult struct {
	Operation    *operation.Operation
	UpstreamCode int
}

// RunControlAction proxies a control action to the broker and unconditionally
// writes a control-audit line, per §4.7 ("regardless of outcome").
func (s *Service) RunControlAction(ctx context.Context, verb, id, actor, reason, requestID string) (*ControlActionResult, error) {
	start := time.Now()
	op, status, err := s.Broker.RunControlAction(ctx, verb, id, actor, reason, requestID)

	s.Audit.Append(map[string]any{
		"actor":           actor,
		"action":          verb,
		"target":          "workflows/" + id,
		"request_id":      requestID,
		"reason":          reason,
		"upstream_status": status,
	})

	if s.Metrics != nil {
		metricStatus := "success"
		if err != nil {
			metricStatus = "error"
		}
		s.Metrics.RecordControlAction(ctx, verb, metricStatus, time.Since(start))
	}

	if err != nil {
		return nil, err
	}
	return &ControlActionResult{Operation: op, UpstreamCode: status}, nil
}

// StopServiceResponse is the response payload an stopService Operation
// completes with.
type StopServiceResponse struct {
	ServiceName    string `json:"serviceName"`
	RuntimeState   string `json:"runtimeState"`
	AlreadyStopped bool   `json:"alreadyStopped"`
	Forced         bool   `json:"forced"`
	PID            int    `json:"pid,omitempty"`
}

// stoppableService is the one service the façade is permitted to stop, per
// §4.7 and the worked INVALID_ARGUMENT example in §7.
const stoppableService = "sports-agent"

// StopService runs the Process Supervisor Probe's stop procedure for the
// named service inside an idempotent local Operation, keyed on
// (project, location, stopService, service, requestId) per §4.7.
func (s *Service) StopService(service, actor, reason, requestID string) (*operation.Operation, error) {
	if service != stoppableService {
		return nil, &conductorerrors.ValidationError{
			Field:      "service",
			Message:    fmt.Sprintf("cannot stop service %q: only %q is a stoppable service", service, stoppableService),
			Suggestion: fmt.Sprintf("target services/%s", stoppableService),
		}
	}

	target := "services/" + service
	op, replayed := operation.Create(s.Ops, s.project, s.location, "stopService", target, actor, reason, requestID)
	if replayed {
		return op, nil
	}

	start := time.Now()
	result, err := s.Supervisor.Stop(service)
	if err != nil {
		operation.Complete(op, nil, &operation.Error{Code: 500, Status: "INTERNAL", Message: err.Error()})
		s.Ops.Put(op)
		if s.Metrics != nil {
			s.Metrics.RecordControlAction(context.Background(), "stopService", "error", time.Since(start))
		}
		return op, nil
	}

	operation.Complete(op, StopServiceResponse{
		ServiceName:    result.ServiceName,
		RuntimeState:   result.RuntimeState,
		AlreadyStopped: result.AlreadyStopped,
		Forced:         result.Forced,
		PID:            result.PID,
	}, nil)
	s.Ops.Put(op)
	if s.Metrics != nil {
		s.Metrics.RecordControlAction(context.Background(), "stopService", "success", time.Since(start))
	}
	return op, nil
}

// MergedOperation is an operation.Operation annotated with which registry it
// came from, for the merged listing endpoint.
type MergedOperation struct {
	*operation.Operation
	Source string `json:"source"`
}

// ListOperations merges locally-owned operations with the broker's,
// sorted by createTime descending per §4.7.
func (s *Service) ListOperations(ctx context.Context) ([]*MergedOperation, error) {
	local := s.Ops.List()
	remote, err := s.Broker.ListOperations(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*MergedOperation, 0, len(local)+len(remote))
	for _, op := range local {
		out = append(out, &MergedOperation{Operation: op, Source: "local"})
	}
	for _, op := range remote {
		out = append(out, &MergedOperation{Operation: op, Source: "broker"})
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Metadata.CreateTime.After(out[i].Metadata.CreateTime) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// GetOperation resolves an operation by name, checking the local registry
// first and falling back to the broker.
func (s *Service) GetOperation(ctx context.Context, project, location, id string) (*MergedOperation, error) {
	name := fmt.Sprintf("projects/%s/locations/%s/operations/%s", project, location, id)
	if op, ok := s.Ops.Get(name); ok {
		return &MergedOperation{Operation: op, Source: "local"}, nil
	}

	op, err := s.Broker.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	return &MergedOperation{Operation: op, Source: "broker"}, nil
}

// EvictExpiredOperations prunes the local operation registry per §5's cache
// pressure rules. Intended to be called periodically by cmd/trace-api.
func (s *Service) EvictExpiredOperations() int {
	return operation.Evict(s.Ops, operation.DefaultEvictionConfig(), time.Now().UTC())
}
