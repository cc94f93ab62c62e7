package workflow

import (
	"testing"

	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Idempotent(t *testing.T) {
	cases := []string{
		"  Awaiting_Approval  ",
		"ERROR",
		"internal_error",
		"cancelled_soft",
		"cancelled_hard",
		"canceled_hard",
		"RUNNING",
	}

	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			once := Normalize(raw)
			twice := Normalize(string(once))
			require.Equal(t, once, twice, "Normalize must be idempotent")
		})
	}
}

func TestNormalize_Synonyms(t *testing.T) {
	require.Equal(t, StatusFailed, Normalize("error"))
	require.Equal(t, StatusFailed, Normalize("internal_error"))
	require.Equal(t, StatusCanceledSoft, Normalize("cancelled_soft"))
	require.Equal(t, StatusCanceledHard, Normalize("cancelled_hard"))
	require.Equal(t, StatusAwaitingApproval, Normalize("  Awaiting_Approval  "))
}

func newWorkflow(status Status) *Workflow {
	return Upsert(nil, UpsertPayload{
		WorkflowID: "wf-1",
		SourceBot:  "sports-agent",
		HasStatus:  true,
		Status:     string(status),
	})
}

func TestUpsert_CreatesWithDefaults(t *testing.T) {
	wf := Upsert(nil, UpsertPayload{WorkflowID: "wf-2", RequiresApproval: true})
	require.Equal(t, StatusAwaitingApproval, wf.Status)
	require.Equal(t, "wf-2", wf.TraceID, "trace_id defaults to workflow_id")
	require.Len(t, wf.Events, 1)
	require.Equal(t, EventWorkflowRegistered, wf.Events[0].Kind)
}

func TestUpsert_DefaultsToRunningWithoutApproval(t *testing.T) {
	wf := Upsert(nil, UpsertPayload{WorkflowID: "wf-3"})
	require.Equal(t, StatusRunning, wf.Status)
}

func TestUpsert_PreservesEventsOnMerge(t *testing.T) {
	wf := newWorkflow(StatusAwaitingApproval)
	require.NoError(t, Execute(wf, "alice", "looks good"))
	before := len(wf.Events)

	merged := Upsert(wf, UpsertPayload{WorkflowID: wf.WorkflowID, Mode: "hitl"})
	require.Len(t, merged.Events, before, "merge must not touch existing events")
	require.Equal(t, "hitl", merged.Mode)
}

func TestExecute_RequiresAwaitingApproval(t *testing.T) {
	wf := newWorkflow(StatusRunning)
	err := Execute(wf, "alice", "go")

	var precondition *conductorerrors.PreconditionError
	require.ErrorAs(t, err, &precondition)
	require.Equal(t, StatusRunning, wf.Status, "failed call must not mutate status")
}

func TestExecute_Success(t *testing.T) {
	wf := newWorkflow(StatusAwaitingApproval)
	require.NoError(t, Execute(wf, "alice", "go"))

	require.Equal(t, StatusApproved, wf.Status)
	require.NotNil(t, wf.Approval)
	require.True(t, wf.Approval.Approved)
	require.Equal(t, "alice", wf.Approval.ApprovedBy)
	require.Equal(t, CancelNone, wf.CancelState)

	kinds := eventKinds(wf)
	require.Contains(t, kinds, EventExecuteRequested)
	require.Contains(t, kinds, EventExecutionApproved)
}

func TestSoftCancel_NoOpWhenAlreadyRequested(t *testing.T) {
	wf := newWorkflow(StatusAwaitingApproval)
	require.NoError(t, SoftCancel(wf, "alice", "pause"))
	require.Equal(t, CancelSoftRequested, wf.CancelState)
	require.Equal(t, StatusAwaitingApproval, wf.Status, "soft cancel alone never changes status")

	eventsBefore := len(wf.Events)
	require.NoError(t, SoftCancel(wf, "bob", "pause again"))
	require.Len(t, wf.Events, eventsBefore, "repeated soft cancel is a no-op")
}

func TestSoftCancel_RejectsTerminal(t *testing.T) {
	wf := newWorkflow(StatusCompleted)
	err := SoftCancel(wf, "alice", "x")

	var precondition *conductorerrors.PreconditionError
	require.ErrorAs(t, err, &precondition)
}

func TestHardCancel_FromAwaitingApproval(t *testing.T) {
	wf := newWorkflow(StatusAwaitingApproval)
	require.NoError(t, HardCancel(wf, "alice", "kill it"))

	require.Equal(t, StatusCanceledHard, wf.Status)
	require.Equal(t, CancelHardRequested, wf.CancelState)
	require.True(t, wf.ControlLocked)
	require.Empty(t, AvailableActions(wf))
}

func TestHardCancel_EscalatesFromSoftCancel(t *testing.T) {
	wf := newWorkflow(StatusAwaitingApproval)
	require.NoError(t, SoftCancel(wf, "alice", "pause"))
	require.NoError(t, HardCancel(wf, "alice", "escalate"))

	require.Equal(t, StatusCanceledHard, wf.Status)
	require.True(t, wf.ControlLocked)
}

func TestHardCancel_RejectedOnceControlLocked(t *testing.T) {
	wf := newWorkflow(StatusAwaitingApproval)
	require.NoError(t, HardCancel(wf, "alice", "kill it"))

	err := HardCancel(wf, "alice", "again")
	var precondition *conductorerrors.PreconditionError
	require.ErrorAs(t, err, &precondition)
}

func TestComplete_IgnoredAfterCancelHard(t *testing.T) {
	wf := newWorkflow(StatusAwaitingApproval)
	require.NoError(t, HardCancel(wf, "alice", "kill it"))

	require.NoError(t, Complete(wf, "completed", map[string]any{"ok": true}))
	require.Equal(t, StatusCanceledHard, wf.Status, "canceled_hard must not be overwritten")

	kinds := eventKinds(wf)
	require.Contains(t, kinds, EventWorkflowCompleteIgnored)
}

func TestComplete_AppliesWhenNotCanceled(t *testing.T) {
	wf := newWorkflow(StatusApproved)
	require.NoError(t, Complete(wf, "Completed", nil))
	require.Equal(t, StatusCompleted, wf.Status)
}

func TestAvailableActions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(wf *Workflow)
		want   []Action
	}{
		{
			name:   "awaiting approval offers all three",
			modify: func(wf *Workflow) {},
			want:   []Action{ActionExecute, ActionCancel, ActionHardCancel},
		},
		{
			name:   "soft requested offers only hard cancel",
			modify: func(wf *Workflow) { require.NoError(t, SoftCancel(wf, "a", "")) },
			want:   []Action{ActionHardCancel},
		},
		{
			name:   "hard canceled offers nothing",
			modify: func(wf *Workflow) { require.NoError(t, HardCancel(wf, "a", "")) },
			want:   []Action{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := newWorkflow(StatusAwaitingApproval)
			tt.modify(wf)
			require.Equal(t, tt.want, AvailableActions(wf))
		})
	}
}

func TestAvailableActions_RunningOrApproved(t *testing.T) {
	wf := newWorkflow(StatusRunning)
	require.Equal(t, []Action{ActionCancel, ActionHardCancel}, AvailableActions(wf))

	wf2 := newWorkflow(StatusApproved)
	require.Equal(t, []Action{ActionCancel, ActionHardCancel}, AvailableActions(wf2))
}

func eventKinds(wf *Workflow) []string {
	kinds := make([]string, len(wf.Events))
	for i, e := range wf.Events {
		kinds[i] = e.Kind
	}
	return kinds
}
