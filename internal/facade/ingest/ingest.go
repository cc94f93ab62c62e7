// Package ingest reads bot-authored trade-journal JSONL files into a sorted,
// trace-tagged event stream the fusion layer can merge with broker state.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/lumenops/tradingbroker/internal/broker/workflow"
)

var journalNamePattern = regexp.MustCompile(`^trades-\d{4}-\d{2}-\d{2}\.jsonl$`)

// Event is one parsed trade-journal line, tagged with a stable id, a global
// sequence number for tie-breaking, and (after AssignTraceIDs) a trace id.
type Event struct {
	ID         string
	Seq        int64
	TS         time.Time
	Bot        string
	Kind       string
	TraceID    string
	WorkflowID string
	Mode       string
	Raw        map[string]any
}

// Scanner walks a TRADES-shaped root directory.
type Scanner struct {
	root   string
	logger *slog.Logger
}

// NewScanner returns a Scanner rooted at root (the TRADES directory).
func NewScanner(root string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{root: root, logger: logger}
}

// Scan lists bot subdirectories, parses every trades-YYYY-MM-DD.jsonl file
// under each, and returns events sorted by (ts asc, seq asc) with trace ids
// already assigned. Non-directory entries and non-matching filenames are
// skipped silently; unreadable directories or files and malformed JSON
// lines are skipped and logged. None of these is fatal.
func (s *Scanner) Scan() ([]Event, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading trades root %s: %w", s.root, err)
	}

	var events []Event
	var seq int64

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		bot := entry.Name()
		botDir := filepath.Join(s.root, bot)

		files, err := os.ReadDir(botDir)
		if err != nil {
			s.logger.Warn("skipping unreadable bot directory", "bot", bot, "error", err)
			continue
		}

		for _, f := range files {
			if f.IsDir() || !journalNamePattern.MatchString(f.Name()) {
				continue
			}
			parsed, n := s.parseFile(bot, filepath.Join(botDir, f.Name()), f.Name(), seq)
			events = append(events, parsed...)
			seq += n
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].TS.Equal(events[j].TS) {
			return events[i].TS.Before(events[j].TS)
		}
		return events[i].Seq < events[j].Seq
	})

	AssignTraceIDs(events)
	return events, nil
}

func (s *Scanner) parseFile(bot, path, basename string, seqStart int64) ([]Event, int64) {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("skipping unreadable journal file", "path", path, "error", err)
		return nil, 0
	}
	defer f.Close()

	var out []Event
	var lineIdx, n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		idx := lineIdx
		lineIdx++
		if len(line) == 0 {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			s.logger.Warn("skipping malformed journal line", "path", path, "line", idx, "error", err)
			continue
		}

		ts := parseTimestamp(raw["ts"])
		evBot := bot
		if b, ok := raw["bot"].(string); ok && b != "" {
			evBot = b
		}
		kind, _ := raw["kind"].(string)

		out = append(out, Event{
			ID:         fmt.Sprintf("%s:%s:%d", bot, basename, idx),
			Seq:        seqStart + n,
			TS:         ts,
			Bot:        evBot,
			Kind:       kind,
			TraceID:    stringField(raw, "trace_id"),
			WorkflowID: stringField(raw, "workflow_id"),
			Mode:       stringField(raw, "mode"),
			Raw:        raw,
		})
		n++
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("error scanning journal file", "path", path, "error", err)
	}
	return out, n
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func parseTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// AssignTraceIDs derives a synthetic trace id per event for bots whose
// events don't carry one, per the cycle-boundary/cycle-closing rules: a
// cycle-boundary kind (or no active trace yet) mints a fresh trace; other
// kinds adopt the bot's currently active trace; a cycle-closing kind clears
// the active trace after assignment so the next unrelated event starts
// fresh. Events are assumed already sorted by (ts, seq).
func AssignTraceIDs(events []Event) {
	active := make(map[string]string)
	// minted counts (bot, compact timestamp) pairs so two traces minted in
	// the same second within one scan still get distinct ids. Scoped to this
	// call so repeated scans of the same fixed input are deterministic.
	minted := make(map[string]int)

	for i := range events {
		e := &events[i]

		switch {
		case e.TraceID != "":
			active[e.Bot] = e.TraceID
		case e.WorkflowID != "":
			e.TraceID = e.WorkflowID
			active[e.Bot] = e.TraceID
		case workflow.IsCycleBoundary(e.Kind):
			e.TraceID = mintTraceID(minted, e.Bot, e.TS)
			active[e.Bot] = e.TraceID
		default:
			if trace, ok := active[e.Bot]; ok && trace != "" {
				e.TraceID = trace
			} else {
				e.TraceID = mintTraceID(minted, e.Bot, e.TS)
				active[e.Bot] = e.TraceID
			}
		}

		if workflow.IsCycleClosing(e.Kind) {
			delete(active, e.Bot)
		}
	}
}

// mintTraceID builds <bot>-<compact_ts>-<n>.
func mintTraceID(minted map[string]int, bot string, ts time.Time) string {
	compact := ts.UTC().Format("20060102T150405")
	key := bot + "|" + compact
	minted[key]++
	return bot + "-" + compact + "-" + strconv.Itoa(minted[key])
}
