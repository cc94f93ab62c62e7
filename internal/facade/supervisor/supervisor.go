// Package supervisor probes and stops the OS processes backing the bots the
// control façade supervises, by reading the same kind of pidfile the bots
// themselves write on startup.
package supervisor

import (
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lumenops/tradingbroker/internal/lifecycle"
	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

// RuntimeState mirrors the closed enum a trace reports for its bot's process.
type RuntimeState string

const (
	RuntimeRunning RuntimeState = "PROCESS_RUNNING"
	RuntimeStopped RuntimeState = "PROCESS_STOPPED"
	RuntimeUnknown RuntimeState = "UNKNOWN"
)

// botServices maps a source_bot tag to the supervisor's service name, used
// only to annotate traces with runtime state — it does not gate any action
// beyond the one stoppable service (sports-agent).
var botServices = map[string]string{
	"sports-agent":  "sports-agent",
	"weather-bot":   "weather",
	"arbitrage-bot": "arbitrage",
	"llm-rules-bot": "llm-workflow",
}

// ServiceForBot resolves a bot tag to its supervisor service name, or "" if
// the bot isn't one of the known managed services.
func ServiceForBot(bot string) string {
	return botServices[bot]
}

const (
	stopPollTimeout  = 3 * time.Second
	stopPollInterval = 120 * time.Millisecond
)

// Probe reads pidfiles under dir to report and control managed processes.
type Probe struct {
	dir string
}

// New returns a Probe rooted at the directory holding one <service>.pid file
// per managed process.
func New(dir string) *Probe {
	return &Probe{dir: dir}
}

func (p *Probe) pidPath(service string) string {
	return filepath.Join(p.dir, service+".pid")
}

// RuntimeState reports whether service's managed process is alive. A
// missing or invalid pidfile is reported as stopped and, if stale, removed.
func (p *Probe) RuntimeState(service string) RuntimeState {
	mgr := lifecycle.NewPIDFileManager(p.pidPath(service))
	pid, err := mgr.Read()
	if err != nil {
		return RuntimeStopped
	}
	if pid <= 1 {
		_ = mgr.Remove()
		return RuntimeStopped
	}
	if lifecycle.IsProcessRunning(pid) {
		return RuntimeRunning
	}
	_ = mgr.Remove()
	return RuntimeStopped
}

// StopResult is what the façade's stopService operation reports on success.
type StopResult struct {
	ServiceName    string `json:"serviceName"`
	RuntimeState   string `json:"runtimeState"`
	AlreadyStopped bool   `json:"alreadyStopped"`
	Forced         bool   `json:"forced"`
	PID            int    `json:"pid,omitempty"`
}

// Stop runs the §4.8 stop procedure: SIGTERM, poll up to 3s, SIGKILL
// escalation, then a final poll. A missing or invalid pidfile is success
// with alreadyStopped=true, matching the open-question decision that
// repeated stopService calls against an already-stopped service succeed.
func (p *Probe) Stop(service string) (*StopResult, error) {
	path := p.pidPath(service)
	mgr := lifecycle.NewPIDFileManager(path)

	pid, err := mgr.Read()
	if err != nil || pid <= 1 {
		return &StopResult{ServiceName: service, RuntimeState: string(RuntimeStopped), AlreadyStopped: true}, nil
	}

	if !lifecycle.IsProcessRunning(pid) {
		_ = mgr.Remove()
		return &StopResult{ServiceName: service, RuntimeState: string(RuntimeStopped), AlreadyStopped: true}, nil
	}

	if err := lifecycle.SendSignal(pid, syscall.SIGTERM); err != nil {
		return nil, &conductorerrors.InternalError{Operation: "stopService", Cause: err}
	}

	forced := false
	if !pollUntilExited(pid, stopPollTimeout, stopPollInterval) {
		forced = true
		if err := lifecycle.SendSignal(pid, syscall.SIGKILL); err != nil {
			return nil, &conductorerrors.InternalError{Operation: "stopService", Cause: err}
		}
		if !pollUntilExited(pid, stopPollTimeout, stopPollInterval) {
			return nil, &conductorerrors.InternalError{
				Operation: "stopService",
				Cause:     fmt.Errorf("process %d did not exit after SIGKILL", pid),
			}
		}
	}

	_ = mgr.Remove()
	return &StopResult{
		ServiceName:  service,
		RuntimeState: string(RuntimeStopped),
		Forced:       forced,
		PID:          pid,
	}, nil
}

// pollUntilExited polls at interval up to timeout, reporting whether pid
// exited — the 120ms cadence §4.8 specifies, distinct from
// lifecycle.WaitForExit's fixed 100ms interval.
func pollUntilExited(pid int, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !lifecycle.IsProcessRunning(pid) {
			return true
		}
		time.Sleep(interval)
	}
	return !lifecycle.IsProcessRunning(pid)
}
