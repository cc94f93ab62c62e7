package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsCycleBoundary(t *testing.T) {
	require.True(t, IsCycleBoundary(EventStrategyCycleStart))
	require.True(t, IsCycleBoundary(EventBotStart))
	require.False(t, IsCycleBoundary(EventOrderPlaced))
}

func TestIsCycleClosing(t *testing.T) {
	require.True(t, IsCycleClosing(EventOrderPlaced))
	require.True(t, IsCycleClosing(EventWorkflowCanceledHard))
	require.False(t, IsCycleClosing(EventStrategyCycleStart))
}

func TestEvent_Summary(t *testing.T) {
	e := Event{TS: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), Kind: EventOrderPlaced}
	require.Contains(t, e.Summary(), EventOrderPlaced)

	withPayload := Event{
		TS:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Kind:    EventExecuteRequested,
		Payload: map[string]any{"actor": "alice"},
	}
	require.Contains(t, withPayload.Summary(), "1 fields")
}
