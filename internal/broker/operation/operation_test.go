package operation_test

import (
	"testing"
	"time"

	"github.com/lumenops/tradingbroker/internal/broker/operation"
	"github.com/stretchr/testify/require"
)

func TestCreate_MintsPendingOperation(t *testing.T) {
	store := operation.NewMemoryStore()
	op, replayed := operation.Create(store, "local", "us-central1", "execute", "workflows/wf-1", "alice", "go", "r1")

	require.False(t, replayed)
	require.False(t, op.Done)
	require.Equal(t, "execute", op.Metadata.Action)
	require.Equal(t, "workflows/wf-1", op.Metadata.Target)
}

func TestCreate_IdempotentReplay(t *testing.T) {
	store := operation.NewMemoryStore()
	first, _ := operation.Create(store, "local", "us-central1", "execute", "workflows/wf-1", "alice", "go", "r1")
	operation.Complete(first, map[string]any{"outcome": "execution_approved"}, nil)

	second, replayed := operation.Create(store, "local", "us-central1", "execute", "workflows/wf-1", "bob", "again", "r1")

	require.True(t, replayed)
	require.Equal(t, first.Name, second.Name)
	require.True(t, second.Done)
}

func TestCreate_DifferentRequestIDMintsNew(t *testing.T) {
	store := operation.NewMemoryStore()
	first, _ := operation.Create(store, "local", "us-central1", "execute", "workflows/wf-1", "alice", "go", "r1")
	second, replayed := operation.Create(store, "local", "us-central1", "execute", "workflows/wf-1", "alice", "go", "r2")

	require.False(t, replayed)
	require.NotEqual(t, first.Name, second.Name)
}

func TestComplete_OnlyAppliesOnce(t *testing.T) {
	store := operation.NewMemoryStore()
	op, _ := operation.Create(store, "local", "us-central1", "hardCancel", "workflows/wf-2", "alice", "", "")

	operation.Complete(op, map[string]any{"outcome": "canceled_hard"}, nil)
	operation.Complete(op, nil, &operation.Error{Code: 500, Status: "INTERNAL", Message: "late error"})

	require.True(t, op.Done)
	require.Nil(t, op.Error, "second Complete call must be ignored")
	require.NotNil(t, op.Response)
}

func TestEvict_RemovesExpiredAndScrubsIndex(t *testing.T) {
	store := operation.NewMemoryStore()
	op, _ := operation.Create(store, "local", "us-central1", "stopService", "services/sports-agent", "alice", "", "r1")
	operation.Complete(op, map[string]any{"ok": true}, nil)
	op.Metadata.CreateTime = time.Now().Add(-48 * time.Hour)

	evicted := operation.Evict(store, operation.EvictionConfig{TTL: 24 * time.Hour, Cap: 5000}, time.Now())

	require.Equal(t, 1, evicted)
	_, found := store.Get(op.Name)
	require.False(t, found)
	_, indexed := store.IndexLookup(operation.RequestKey("local", "us-central1", "services/sports-agent", "stopService", "r1"))
	require.False(t, indexed, "request index entry must be scrubbed on eviction")
}

func TestEvict_EnforcesCap(t *testing.T) {
	store := operation.NewMemoryStore()
	for i := 0; i < 5; i++ {
		op, _ := operation.Create(store, "local", "us-central1", "stopService", "services/sports-agent", "alice", "", "")
		operation.Complete(op, nil, nil)
	}

	evicted := operation.Evict(store, operation.EvictionConfig{TTL: 24 * time.Hour, Cap: 3}, time.Now())

	require.Equal(t, 2, evicted)
	require.Len(t, store.List(), 3)
}
