package workflow

import "fmt"

// Event kinds appended to a workflow's log. Bot-authored kinds (the first
// block) arrive over the trade journal and are replayed into a trace by the
// fusion layer; broker-authored kinds (the second block) are appended by
// the pure functions in workflow.go under the state lock.
const (
	EventStrategyCycleStart      = "strategy_cycle_start"
	EventStrategyCycleSummary    = "strategy_cycle_summary"
	EventBotStart                = "bot_start"
	EventBotShutdown             = "bot_shutdown"
	EventRecommendationGenerated = "recommendation_generated"
	EventResearchRequested       = "research_requested"
	EventOrderPlaced             = "order_placed"
	EventExecutionResult         = "execution_result"
	EventApprovalTimeout         = "approval_timeout"

	EventWorkflowRegistered      = "workflow_registered"
	EventExecuteRequested        = "execute_requested"
	EventExecutionApproved       = "execution_approved"
	EventCancelRequestedSoft     = "cancel_requested_soft"
	EventCancelRequestedHard     = "cancel_requested_hard"
	EventCleanupStarted          = "cleanup_started"
	EventCleanupCompleted        = "cleanup_completed"
	EventWorkflowCanceledSoft    = "workflow_canceled_soft"
	EventWorkflowCanceledHard    = "workflow_canceled_hard"
	EventWorkflowComplete        = "workflow_complete"
	EventWorkflowCompleteIgnored = "workflow_complete_ignored"
)

// cycleBoundaryKinds start a new bot-owned trace when no active trace
// exists yet, or unconditionally when the bot signals a fresh cycle.
var cycleBoundaryKinds = map[string]bool{
	EventStrategyCycleStart:      true,
	EventBotStart:                true,
	EventRecommendationGenerated: true,
	EventResearchRequested:       true,
}

// cycleClosingKinds clear a bot's active trace after the event has been
// assigned to it, so the next unrelated event mints a fresh trace.
var cycleClosingKinds = map[string]bool{
	EventStrategyCycleSummary: true,
	EventBotShutdown:          true,
	EventOrderPlaced:          true,
	EventWorkflowComplete:     true,
	EventApprovalTimeout:      true,
	EventWorkflowCanceledSoft: true,
	EventWorkflowCanceledHard: true,
}

// IsCycleBoundary reports whether kind always starts a new synthetic trace
// for its bot, regardless of whether one is already active.
func IsCycleBoundary(kind string) bool {
	return cycleBoundaryKinds[kind]
}

// IsCycleClosing reports whether kind clears the bot's active trace once
// the event carrying it has been assigned.
func IsCycleClosing(kind string) bool {
	return cycleClosingKinds[kind]
}

// Summary renders a one-line human-readable description of the event.
func (e Event) Summary() string {
	if len(e.Payload) == 0 {
		return fmt.Sprintf("%s at %s", e.Kind, e.TS.Format("15:04:05"))
	}
	return fmt.Sprintf("%s at %s (%d fields)", e.Kind, e.TS.Format("15:04:05"), len(e.Payload))
}
