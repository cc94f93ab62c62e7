package auditlog_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenops/tradingbroker/internal/facade/auditlog"
	"github.com/stretchr/testify/require"
)

func TestWriter_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control-audit.jsonl")
	w := auditlog.Open(path)

	w.Append(map[string]any{"actor": "alice", "action": "execute", "target": "workflows/wf-1"})
	w.Append(map[string]any{"actor": "bob", "action": "cancel", "target": "workflows/wf-2"})
	w.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "alice", lines[0]["actor"])
	require.Equal(t, "bob", lines[1]["actor"])
	require.Contains(t, lines[0], "ts")
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control-audit.jsonl")
	w := auditlog.Open(path)
	w.Append(map[string]any{"actor": "alice"})

	done := make(chan struct{})
	go func() {
		w.Close()
		w.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
