package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollFallbackInterval = 2 * time.Second

// Watcher triggers onChange whenever a trade-journal file under root is
// created or written, coalescing bursts of fsnotify events into a single
// rescan signal. Setting TRACE_API_WATCH_DISABLED=1 falls back to a plain
// polling ticker, for environments (containers, some network filesystems)
// where inotify isn't available or reliable.
type Watcher struct {
	root     string
	onChange func()
	logger   *slog.Logger
}

// NewWatcher returns a Watcher that calls onChange after relevant
// filesystem activity under root.
func NewWatcher(root string, onChange func(), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: root, onChange: onChange, logger: logger}
}

// Run blocks, watching until ctx is canceled. It never returns an error for
// a missing root — the ingestor already treats a missing TRADES directory
// as zero events, and the watcher just has nothing to watch yet.
func (w *Watcher) Run(ctx context.Context) {
	if os.Getenv("TRACE_API_WATCH_DISABLED") == "1" {
		w.runPolling(ctx)
		return
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		w.runPolling(ctx)
		return
	}
	defer fsw.Close()

	if err := w.addTree(fsw); err != nil {
		w.logger.Warn("failed to watch trades root, falling back to polling", "error", err)
		w.runPolling(ctx)
		return
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				_ = fsw.Add(event.Name)
			}
			debounce.Reset(150 * time.Millisecond)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("trade journal watch error", "error", err)
		case <-debounce.C:
			w.onChange()
		}
	}
}

// addTree watches root plus its immediate bot subdirectories, so newly
// created per-bot directories are picked up on the next top-level rescan
// rather than requiring a restart.
func (w *Watcher) addTree(fsw *fsnotify.Watcher) error {
	if err := fsw.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = fsw.Add(filepath.Join(w.root, e.Name()))
		}
	}
	return nil
}

func (w *Watcher) runPolling(ctx context.Context) {
	ticker := time.NewTicker(pollFallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.onChange()
		}
	}
}
