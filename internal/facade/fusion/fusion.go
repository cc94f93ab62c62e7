// Package fusion merges the broker's authoritative workflow state with the
// trade-journal event stream into read-only Trace resources — the view the
// control façade and its callers actually read.
package fusion

import (
	"sort"
	"time"

	"github.com/lumenops/tradingbroker/internal/broker/workflow"
	"github.com/lumenops/tradingbroker/internal/facade/ingest"
)

// statusPriority orders statuses for the "higher wins" merge rule: a
// workflow update only raises a trace's status, never lowers it. Journal
// events do not contribute a status; a trace with no workflow keeps an
// empty status.
var statusPriority = map[workflow.Status]int{
	workflow.StatusRunning:          1,
	workflow.StatusAwaitingApproval: 2,
	workflow.StatusApproved:         3,
	workflow.StatusCompleted:        4,
	workflow.StatusExecuted:         5,
	workflow.StatusCanceledSoft:     6,
	workflow.StatusCanceledHard:     7,
	workflow.StatusFailed:           8,
}

// presentationPriority is the distinct ordering used only for the final
// sort, per §4.6 — note executed outranks awaiting_approval here even
// though canceled/failed outrank it in the merge lattice above.
var presentationPriority = map[workflow.Status]int{
	workflow.StatusExecuted:         8,
	workflow.StatusAwaitingApproval: 7,
	workflow.StatusApproved:         6,
	workflow.StatusRunning:          5,
	workflow.StatusCompleted:        4,
	workflow.StatusCanceledSoft:     3,
	workflow.StatusCanceledHard:     2,
	workflow.StatusFailed:           1,
}

// Trace is a fused, read-only view over a workflow's authoritative state
// and its journaled events, keyed by trace id.
type Trace struct {
	TraceID            string
	WorkflowID         string
	SourceBot          string
	Mode               string
	RequiresApproval   bool
	Status             workflow.Status
	CancelState        workflow.CancelState
	ControlLocked      bool
	Approval           *workflow.Approval
	LastCommandAt      *time.Time
	LastCommandBy      string
	Events             []workflow.Event
	TSStart            time.Time
	TSEnd              time.Time
	EventCount         int
	ExecutedTradeCount int
	LatestExecutionTS  time.Time
	LatestExecution    *ingest.ExecutionRecord
	RuntimeState       string
	AvailableActions   []workflow.Action
}

func (t *Trace) widen(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if t.TSStart.IsZero() || ts.Before(t.TSStart) {
		t.TSStart = ts
	}
	if ts.After(t.TSEnd) {
		t.TSEnd = ts
	}
}

func (t *Trace) raiseStatus(s workflow.Status) {
	if s == "" {
		return
	}
	if cur, ok := statusPriority[t.Status]; !ok || statusPriority[s] > cur {
		t.Status = s
	}
}

// Merge builds the fused trace list from ingested trade events and
// authoritative broker workflows. Runtime state for each trace's bot is
// resolved via runtimeState, a caller-supplied lookup so this package stays
// independent of the process supervisor.
func Merge(events []ingest.Event, workflows []*workflow.Workflow, runtimeState func(bot string) string) []*Trace {
	traces := make(map[string]*Trace)

	order := func(id string) *Trace {
		t, ok := traces[id]
		if !ok {
			t = &Trace{TraceID: id, CancelState: workflow.CancelNone}
			traces[id] = t
		}
		return t
	}

	for _, e := range events {
		if e.TraceID == "" {
			continue
		}
		t := order(e.TraceID)
		if t.SourceBot == "" {
			t.SourceBot = e.Bot
		}
		if e.WorkflowID != "" {
			t.WorkflowID = e.WorkflowID
		}
		if e.Mode != "" {
			t.Mode = e.Mode
		}
		t.widen(e.TS)
		t.Events = append(t.Events, workflow.Event{TS: e.TS, Kind: e.Kind, Payload: e.Raw})
		t.EventCount++

		if rec, ok := ingest.ExtractExecution(e); ok {
			t.ExecutedTradeCount++
			if e.TS.After(t.LatestExecutionTS) {
				t.LatestExecutionTS = e.TS
				t.LatestExecution = rec
			}
		}
	}

	for _, wf := range workflows {
		id := wf.TraceID
		if id == "" {
			id = wf.WorkflowID
		}
		t := order(id)
		t.WorkflowID = wf.WorkflowID
		if wf.SourceBot != "" {
			t.SourceBot = wf.SourceBot
		}
		if wf.Mode != "" {
			t.Mode = wf.Mode
		}
		t.RequiresApproval = wf.RequiresApproval
		t.raiseStatus(wf.Status)
		t.CancelState = wf.CancelState
		t.ControlLocked = wf.ControlLocked
		t.Approval = wf.Approval
		t.LastCommandAt = wf.LastCommandAt
		t.LastCommandBy = wf.LastCommandBy
		t.widen(wf.CreatedAt)
		t.widen(wf.UpdatedAt)

		for _, ev := range wf.Events {
			t.Events = append(t.Events, ev)
			t.EventCount++
		}
	}

	out := make([]*Trace, 0, len(traces))
	for _, t := range traces {
		t.Status = workflow.Normalize(string(t.Status))
		if runtimeState != nil && t.SourceBot != "" {
			t.RuntimeState = runtimeState(t.SourceBot)
		} else {
			t.RuntimeState = "UNKNOWN"
		}
		t.AvailableActions = workflow.AvailableActions(&workflow.Workflow{
			Status:        t.Status,
			CancelState:   t.CancelState,
			ControlLocked: t.ControlLocked,
		})
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ExecutedTradeCount != b.ExecutedTradeCount {
			return a.ExecutedTradeCount > b.ExecutedTradeCount
		}
		pa, pb := presentationPriority[a.Status], presentationPriority[b.Status]
		if pa != pb {
			return pa > pb
		}
		if !a.LatestExecutionTS.Equal(b.LatestExecutionTS) {
			return a.LatestExecutionTS.After(b.LatestExecutionTS)
		}
		if !a.TSStart.Equal(b.TSStart) {
			return a.TSStart.After(b.TSStart)
		}
		return a.TraceID < b.TraceID
	})

	return out
}
