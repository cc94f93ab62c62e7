// Package workflow implements the broker's workflow state machine as a set
// of pure functions over a mutable record. It has no dependency on the
// state store, the HTTP surface, or persistence — callers hold whatever
// lock is appropriate and invoke these functions directly, which is what
// lets the trace fusion layer reuse Normalize and AvailableActions without
// importing anything broker-internal.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/lumenops/tradingbroker/pkg/errors"
)

// Status is the lifecycle status of a workflow.
type Status string

const (
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusExecuted         Status = "executed"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCanceledSoft     Status = "canceled_soft"
	StatusCanceledHard     Status = "canceled_hard"
)

// CancelState tracks an in-flight cancellation request separately from
// status, since a soft cancel does not itself change status — the bot
// acknowledges it asynchronously by writing the eventual canceled_soft.
type CancelState string

const (
	CancelNone          CancelState = "none"
	CancelSoftRequested CancelState = "soft_requested"
	CancelHardRequested CancelState = "hard_requested"
)

// Action is a control action that may be available on a workflow.
type Action string

const (
	ActionExecute    Action = "execute"
	ActionCancel     Action = "cancel"
	ActionHardCancel Action = "hardCancel"
)

// terminalStatuses are terminal for the control path. canceled_soft is the
// one exception: it may still be escalated to canceled_hard.
var terminalStatuses = map[Status]bool{
	StatusExecuted:     true,
	StatusCompleted:    true,
	StatusFailed:       true,
	StatusCanceledSoft: true,
	StatusCanceledHard: true,
}

// Approval records the outcome of an execute() call.
type Approval struct {
	Approved       bool       `json:"approved"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ApprovedBy     string     `json:"approved_by,omitempty"`
	CommandContext string     `json:"command_context,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// Event is an append-only entry in a workflow's event log.
type Event struct {
	TS      time.Time      `json:"ts"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Workflow is a single run of a bot's decision cycle.
type Workflow struct {
	WorkflowID       string      `json:"workflow_id"`
	TraceID          string      `json:"trace_id"`
	SourceBot        string      `json:"source_bot"`
	Mode             string      `json:"mode"`
	RequiresApproval bool        `json:"requires_approval"`
	Status           Status      `json:"status"`
	CancelState      CancelState `json:"cancel_state"`
	ControlLocked    bool        `json:"control_locked"`
	Approval         *Approval   `json:"approval,omitempty"`
	Recommendation   any         `json:"recommendation,omitempty"`
	Result           any         `json:"result,omitempty"`
	Input            any         `json:"input,omitempty"`
	Events           []Event     `json:"events"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	LastCommandAt    *time.Time  `json:"last_command_at,omitempty"`
	LastCommandBy    string      `json:"last_command_by,omitempty"`
}

// IsTerminal returns true if status is terminal for the control path.
// canceled_soft is terminal-for-control-path purposes here too — it still
// accepts hardCancel, which callers must check separately.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// Normalize trims, lowercases, and maps legacy synonyms onto the closed
// status enum. It is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "error", "internal_error":
		return StatusFailed
	case "cancelled_soft":
		return StatusCanceledSoft
	case "cancelled_hard":
		return StatusCanceledHard
	}
	s = strings.Replace(s, "cancelled_", "canceled_", 1)
	return Status(s)
}

func appendEvent(wf *Workflow, kind string, payload map[string]any) {
	wf.Events = append(wf.Events, Event{TS: time.Now().UTC(), Kind: kind, Payload: payload})
}

func touch(wf *Workflow, actor string) {
	now := time.Now().UTC()
	wf.UpdatedAt = now
	wf.LastCommandAt = &now
	wf.LastCommandBy = actor
}

// UpsertPayload carries the fields accepted by Upsert. Zero values mean
// "not provided" — Upsert never clobbers an existing field with a zero
// value on an existing record, except RequiresApproval, which a bool
// cannot mark as absent and so is always taken from the payload.
type UpsertPayload struct {
	WorkflowID       string
	TraceID          string
	SourceBot        string
	Mode             string
	RequiresApproval bool
	HasStatus        bool
	Status           string
	Recommendation   any
	Input            any
}

// Upsert creates the workflow if absent, or merges the provided fields into
// an existing record. status defaults to awaiting_approval when
// requires_approval is set, else running — unless the payload names an
// explicit status. Existing events are always preserved.
func Upsert(existing *Workflow, p UpsertPayload) *Workflow {
	now := time.Now().UTC()

	if existing == nil {
		wf := &Workflow{
			WorkflowID:       p.WorkflowID,
			TraceID:          p.TraceID,
			SourceBot:        p.SourceBot,
			Mode:             p.Mode,
			RequiresApproval: p.RequiresApproval,
			CancelState:      CancelNone,
			Recommendation:   p.Recommendation,
			Input:            p.Input,
			Events:           []Event{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if wf.TraceID == "" {
			wf.TraceID = wf.WorkflowID
		}
		switch {
		case p.HasStatus:
			wf.Status = Normalize(p.Status)
		case p.RequiresApproval:
			wf.Status = StatusAwaitingApproval
		default:
			wf.Status = StatusRunning
		}
		appendEvent(wf, "workflow_registered", nil)
		return wf
	}

	if p.TraceID != "" {
		existing.TraceID = p.TraceID
	}
	if p.SourceBot != "" {
		existing.SourceBot = p.SourceBot
	}
	if p.Mode != "" {
		existing.Mode = p.Mode
	}
	existing.RequiresApproval = p.RequiresApproval
	if p.Recommendation != nil {
		existing.Recommendation = p.Recommendation
	}
	if p.Input != nil {
		existing.Input = p.Input
	}
	if p.HasStatus {
		existing.Status = Normalize(p.Status)
	}
	existing.UpdatedAt = now
	return existing
}

// Execute transitions an awaiting_approval workflow to approved. Legal only
// from status == awaiting_approval; any other status is a FAILED_PRECONDITION
// and leaves the workflow untouched.
func Execute(wf *Workflow, actor, reason string) error {
	if wf.ControlLocked {
		return &errors.PreconditionError{Resource: wf.WorkflowID, Reason: "control_locked"}
	}
	if wf.Status != StatusAwaitingApproval {
		return &errors.PreconditionError{
			Resource: wf.WorkflowID,
			Reason:   fmt.Sprintf("execute is not legal from status %s", wf.Status),
		}
	}

	now := time.Now().UTC()
	wf.Status = StatusApproved
	wf.Approval = &Approval{
		Approved:   true,
		ApprovedAt: &now,
		ApprovedBy: actor,
		Reason:     reason,
	}
	wf.CancelState = CancelNone
	appendEvent(wf, "execute_requested", map[string]any{"actor": actor, "reason": reason})
	appendEvent(wf, "execution_approved", nil)
	touch(wf, actor)
	return nil
}

// SoftCancel requests cooperative cancellation. Legal from any non-terminal
// status and from canceled_soft (where it is a no-op success). It does not
// itself change status — the bot acknowledges asynchronously.
func SoftCancel(wf *Workflow, actor, reason string) error {
	if wf.ControlLocked {
		return &errors.PreconditionError{Resource: wf.WorkflowID, Reason: "control_locked"}
	}
	if wf.Status.IsTerminal() && wf.Status != StatusCanceledSoft {
		return &errors.PreconditionError{
			Resource: wf.WorkflowID,
			Reason:   fmt.Sprintf("cancel is not legal from terminal status %s", wf.Status),
		}
	}

	if wf.Status == StatusCanceledSoft || wf.CancelState == CancelSoftRequested {
		touch(wf, actor)
		return nil
	}

	wf.CancelState = CancelSoftRequested
	appendEvent(wf, "cancel_requested_soft", map[string]any{"actor": actor, "reason": reason})
	touch(wf, actor)
	return nil
}

// HardCancel immediately and irrevocably locks the workflow. Legal from any
// non-terminal status and from canceled_soft.
func HardCancel(wf *Workflow, actor, reason string) error {
	if wf.ControlLocked {
		return &errors.PreconditionError{Resource: wf.WorkflowID, Reason: "control_locked"}
	}
	if wf.Status.IsTerminal() && wf.Status != StatusCanceledSoft {
		return &errors.PreconditionError{
			Resource: wf.WorkflowID,
			Reason:   fmt.Sprintf("hardCancel is not legal from terminal status %s", wf.Status),
		}
	}

	wf.Status = StatusCanceledHard
	wf.CancelState = CancelHardRequested
	wf.ControlLocked = true
	appendEvent(wf, "cancel_requested_hard", map[string]any{"actor": actor, "reason": reason})
	appendEvent(wf, "cleanup_started", nil)
	appendEvent(wf, "cleanup_completed", nil)
	appendEvent(wf, "workflow_canceled_hard", nil)
	touch(wf, actor)
	return nil
}

// Complete records a worker-reported terminal outcome. Preserves any
// canceled_* status already reached: the new status is ignored but the
// attempt is still logged as workflow_complete_ignored, carrying the
// attempted status.
func Complete(wf *Workflow, newStatus string, result any) error {
	if wf.Status == StatusCanceledSoft || wf.Status == StatusCanceledHard {
		appendEvent(wf, "workflow_complete_ignored", map[string]any{"status": newStatus})
		wf.UpdatedAt = time.Now().UTC()
		return nil
	}

	wf.Status = Normalize(newStatus)
	wf.Result = result
	appendEvent(wf, "workflow_complete", map[string]any{"status": string(wf.Status)})
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

// AvailableActions derives which control actions may legally be invoked
// right now. A control-locked or hard-requested workflow accepts nothing.
func AvailableActions(wf *Workflow) []Action {
	if wf.ControlLocked || wf.CancelState == CancelHardRequested {
		return []Action{}
	}
	if wf.CancelState == CancelSoftRequested {
		return []Action{ActionHardCancel}
	}

	switch wf.Status {
	case StatusAwaitingApproval:
		return []Action{ActionExecute, ActionCancel, ActionHardCancel}
	case StatusRunning, StatusApproved:
		return []Action{ActionCancel, ActionHardCancel}
	default:
		return []Action{}
	}
}
