// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package lifecycle manages PID files and OS-process signaling for the bots the
control façade supervises.

# PID File Management

PID files are security-sensitive, since they decide which process receives
shutdown signals. The package uses exclusive file locking (flock) and atomic
creation (O_EXCL) to prevent race conditions and symlink attacks:

	manager := lifecycle.NewPIDFileManager("/path/to/sports-agent.pid")
	if err := manager.Create(1234); err != nil {
	    // Handle error
	}
	defer manager.Remove()

# Process Operations

IsManagedProcess guards against signaling an unrelated process that happens
to have reused a stale pidfile's PID:

	pid, err := manager.Read()
	if err != nil {
	    // Handle error
	}

	if !lifecycle.IsManagedProcess(pid, "sports-agent") {
	    // PID file is stale
	}

	if err := lifecycle.SendSignal(pid, syscall.SIGTERM); err != nil {
	    // Handle error
	}

GracefulShutdown combines a SIGTERM, a bounded wait, and an optional SIGKILL
escalation. The Process Supervisor Probe does not call it: it runs its own
SIGTERM/poll/SIGKILL sequence over IsProcessRunning and SendSignal.
*/
package lifecycle
