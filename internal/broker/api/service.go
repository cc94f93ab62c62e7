package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lumenops/tradingbroker/internal/broker/operation"
	"github.com/lumenops/tradingbroker/internal/broker/state"
	"github.com/lumenops/tradingbroker/internal/broker/workflow"
	"github.com/lumenops/tradingbroker/internal/tracing"
	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

func randSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Service is the broker's domain layer, independent of HTTP: it holds the
// state store and exposes the operations the router dispatches to. Keeping
// it separate from the handlers lets tests drive the same logic without
// going through net/http; the façade reaches it only over HTTP.
type Service struct {
	Store   *state.Store
	Metrics *tracing.MetricsCollector
}

// NewService wraps a state store.
func NewService(store *state.Store) *Service {
	return &Service{Store: store}
}

// SetMetrics wires a metrics collector for control-action and operation
// registry instrumentation. A nil collector (the default) makes recording a
// no-op, so tests that don't care about metrics need not set one.
func (s *Service) SetMetrics(mc *tracing.MetricsCollector) {
	s.Metrics = mc
	if mc != nil {
		mc.SetOperationCounter(s)
	}
}

// OperationCount implements tracing.OperationCounter over the broker's
// snapshot-backed operation store.
func (s *Service) OperationCount() int {
	return len(s.Store.Operations().List())
}

// WorkflowFilter is a parsed `state="X" and source_bot="Y"` filter clause
// set. Unknown fields are dropped by ParseFilter and never reach matching,
// per the V1 list endpoint's documented behavior.
type WorkflowFilter struct {
	Status    string
	SourceBot string
}

// ParseFilter parses the broker's filter grammar: `<field>=<value>` clauses
// joined by ` and `. Values may be bare or double-quoted. Unknown fields are
// silently dropped.
func ParseFilter(raw string) WorkflowFilter {
	var f WorkflowFilter
	if raw == "" {
		return f
	}
	for _, clause := range strings.Split(raw, " and ") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			continue
		}
		field := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		switch field {
		case "state", "status":
			f.Status = value
		case "source_bot":
			f.SourceBot = value
		}
	}
	return f
}

func (f WorkflowFilter) matches(wf *workflow.Workflow) bool {
	if f.Status != "" && !strings.EqualFold(string(wf.Status), f.Status) {
		return false
	}
	if f.SourceBot != "" && wf.SourceBot != f.SourceBot {
		return false
	}
	return true
}

// ListWorkflows returns workflows matching filter, sorted by updated_at
// descending (the V1 default orderBy), clamped to the given page window.
func (s *Service) ListWorkflows(filter WorkflowFilter, pageSize, pageOffset int) ([]*workflow.Workflow, int) {
	all := s.Store.ListWorkflows()

	matched := make([]*workflow.Workflow, 0, len(all))
	for _, wf := range all {
		if filter.matches(wf) {
			matched = append(matched, wf)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	if pageOffset >= total {
		return []*workflow.Workflow{}, total
	}
	end := pageOffset + pageSize
	if end > total {
		end = total
	}
	return matched[pageOffset:end], total
}

// GetWorkflow fetches a workflow by id, or a NotFoundError.
func (s *Service) GetWorkflow(id string) (*workflow.Workflow, error) {
	wf, ok := s.Store.GetWorkflow(id)
	if !ok {
		return nil, &conductorerrors.NotFoundError{Resource: "workflow", ID: id}
	}
	return wf, nil
}

// UpsertPayload is the broker-facing register/upsert request body, shared by
// the V1 and legacy routes (which differ only in field names, reconciled by
// the handler layer).
type UpsertPayload = workflow.UpsertPayload

// Upsert creates or merges a workflow and persists the result.
func (s *Service) Upsert(p UpsertPayload) (*workflow.Workflow, error) {
	if p.WorkflowID == "" {
		p.WorkflowID = fmt.Sprintf("wf-%d-%s", time.Now().UnixMilli(), randSuffix())
	}

	var result *workflow.Workflow
	err := s.Store.Mutate(func(snap *state.Snapshot) error {
		existing := snap.Workflows[p.WorkflowID]
		result = workflow.Upsert(existing, p)
		snap.Workflows[result.WorkflowID] = result
		return nil
	})
	return result, err
}

// controlAction is the shape shared by execute/cancel/hardCancel and their
// legacy equivalents.
type controlAction func(wf *workflow.Workflow, actor, reason string) error

// controlOutcomes names the response.outcome value a successful control
// action reports, matching the event-kind vocabulary bots and operators
// already read off the workflow's event log.
var controlOutcomes = map[string]string{
	"execute":    "execution_approved",
	"cancel":     "soft_cancel_requested",
	"hardCancel": "canceled_hard",
}

// RunControlAction performs a control action against a workflow through the
// Operation Registry, giving it idempotent replay semantics keyed on
// (project, location, workflow id, action, requestId).
func (s *Service) RunControlAction(project, location, id, action, actor, reason, requestID string, fn controlAction) (*operation.Operation, error) {
	start := time.Now()
	var op *operation.Operation
	var replayed bool
	var mutateErr error

	err := s.Store.Mutate(func(snap *state.Snapshot) error {
		opStore := snap.Operations()
		op, replayed = operation.Create(opStore, project, location, action, "workflows/"+id, actor, reason, requestID)
		if replayed {
			return nil
		}

		wf, ok := snap.Workflows[id]
		if !ok {
			mutateErr = &conductorerrors.NotFoundError{Resource: "workflow", ID: id}
			operation.Complete(op, nil, &operation.Error{Code: 404, Status: "NOT_FOUND", Message: mutateErr.Error()})
			opStore.Put(op)
			return nil
		}

		if err := fn(wf, actor, reason); err != nil {
			mutateErr = err
			if rs, ok2 := err.(rpcStatuser); ok2 {
				operation.Complete(op, nil, &operation.Error{Code: rs.HTTPStatus(), Status: rs.RPCStatus(), Message: err.Error()})
			} else {
				operation.Complete(op, nil, &operation.Error{Code: 500, Status: "INTERNAL", Message: err.Error()})
			}
			opStore.Put(op)
			return nil
		}

		operation.Complete(op, map[string]any{"outcome": controlOutcomes[action], "workflow": wf}, nil)
		opStore.Put(op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Metrics != nil && !replayed {
		status := "success"
		if mutateErr != nil {
			status = "error"
		}
		s.Metrics.RecordControlAction(context.Background(), action, status, time.Since(start))
	}

	return op, mutateErr
}

// Execute, Cancel, HardCancel are the three control actions the HTTP and
// proxy layers dispatch through RunControlAction.
func (s *Service) Execute(project, location, id, actor, reason, requestID string) (*operation.Operation, error) {
	return s.RunControlAction(project, location, id, "execute", actor, reason, requestID, workflow.Execute)
}

func (s *Service) Cancel(project, location, id, actor, reason, requestID string) (*operation.Operation, error) {
	return s.RunControlAction(project, location, id, "cancel", actor, reason, requestID, workflow.SoftCancel)
}

func (s *Service) HardCancel(project, location, id, actor, reason, requestID string) (*operation.Operation, error) {
	return s.RunControlAction(project, location, id, "hardCancel", actor, reason, requestID, workflow.HardCancel)
}

// Complete records a worker-reported terminal outcome.
func (s *Service) Complete(id, newStatus string, result any) (*workflow.Workflow, error) {
	var wf *workflow.Workflow
	err := s.Store.Mutate(func(snap *state.Snapshot) error {
		existing, ok := snap.Workflows[id]
		if !ok {
			return &conductorerrors.NotFoundError{Resource: "workflow", ID: id}
		}
		if err := workflow.Complete(existing, newStatus, result); err != nil {
			return err
		}
		wf = existing
		return nil
	})
	return wf, err
}

// AppendEvent appends a bot-authored event to an existing workflow.
func (s *Service) AppendEvent(id, kind string, payload map[string]any) (*workflow.Workflow, error) {
	var wf *workflow.Workflow
	err := s.Store.Mutate(func(snap *state.Snapshot) error {
		existing, ok := snap.Workflows[id]
		if !ok {
			return &conductorerrors.NotFoundError{Resource: "workflow", ID: id}
		}
		existing.Events = append(existing.Events, workflow.Event{TS: time.Now().UTC(), Kind: kind, Payload: payload})
		existing.UpdatedAt = time.Now().UTC()
		wf = existing
		return nil
	})
	return wf, err
}

// ListOperations returns broker-owned operations sorted createTime desc,
// paginated like ListWorkflows.
func (s *Service) ListOperations(pageSize, pageOffset int) ([]*operation.Operation, int) {
	ops := s.Store.Operations().List()
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].Metadata.CreateTime.After(ops[j].Metadata.CreateTime)
	})

	total := len(ops)
	if pageOffset >= total {
		return []*operation.Operation{}, total
	}
	end := pageOffset + pageSize
	if end > total {
		end = total
	}
	return ops[pageOffset:end], total
}

// GetOperation fetches a broker-owned operation by name.
func (s *Service) GetOperation(name string) (*operation.Operation, error) {
	op, ok := s.Store.Operations().Get(name)
	if !ok {
		return nil, &conductorerrors.NotFoundError{Resource: "operation", ID: name}
	}
	return op, nil
}

type rpcStatuser interface {
	RPCStatus() string
	HTTPStatus() int
}
