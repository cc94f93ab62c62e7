package state_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenops/tradingbroker/internal/broker/operation"
	"github.com/lumenops/tradingbroker/internal/broker/state"
	"github.com/lumenops/tradingbroker/internal/broker/workflow"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*state.Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "broker-state.json")
	auditPath := filepath.Join(dir, "control-audit.jsonl")

	s, err := state.Open(statePath, auditPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, statePath, auditPath
}

func TestOpen_InitializesEmptyOnMissingFile(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.Empty(t, s.ListWorkflows())
}

func TestOpen_NeverCrashesOnMalformedSnapshot(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "broker-state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("not json"), 0o644))

	s, err := state.Open(statePath, filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	require.Empty(t, s.ListWorkflows())
}

func TestMutate_PersistsSnapshotToDisk(t *testing.T) {
	s, statePath, _ := newTestStore(t)

	wf := workflow.Upsert(nil, workflow.UpsertPayload{WorkflowID: "wf-1", RequiresApproval: true})
	require.NoError(t, s.Mutate(func(snap *state.Snapshot) error {
		snap.Workflows[wf.WorkflowID] = wf
		return nil
	}))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(statePath)
		if err != nil {
			return false
		}
		var snap state.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return false
		}
		_, ok := snap.Workflows["wf-1"]
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestMutate_FailedFnDoesNotSchedulePersist(t *testing.T) {
	s, _, _ := newTestStore(t)

	err := s.Mutate(func(snap *state.Snapshot) error {
		return context.Canceled
	})
	require.Error(t, err)
}

func TestAppendAudit_WritesNewlineDelimitedJSON(t *testing.T) {
	s, _, auditPath := newTestStore(t)

	s.AppendAudit(map[string]any{"actor": "alice", "action": "execute"})
	s.AppendAudit(map[string]any{"actor": "bob", "action": "cancel"})

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(auditPath)
		return err == nil && len(data) > 0
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)

	lines := splitNonEmptyLines(string(data))
	require.Len(t, lines, 2)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		require.Contains(t, entry, "ts")
	}
}

func TestOperations_SharesSnapshotWithWorkflows(t *testing.T) {
	s, _, _ := newTestStore(t)
	opStore := s.Operations()

	op, replayed := operation.Create(opStore, "local", "us-central1", "execute", "workflows/wf-1", "alice", "go", "r1")
	require.False(t, replayed)

	s.View(func(snap *state.Snapshot) {
		_, ok := snap.Operations[op.Name]
		require.True(t, ok, "operation created through the adapter must land in the shared snapshot")
	})
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
