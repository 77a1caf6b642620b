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

// Package executor defines the remote-execution capability the controller
// consumes, plus a local subprocess implementation used for embedded runs
// and tests. The production transport (playbook runner + SSH fan-out) lives
// outside this module.
package executor

import (
	"context"

	"github.com/tombee/loadbench/internal/config"
)

// Execution statuses reported by the transport.
const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusStopped    = "stopped"
)

// Inventory is the host set a script runs against.
type Inventory struct {
	Hosts             []config.HostSpec
	InventoryFilePath string
}

// Names returns the inventory host names in order.
func (i Inventory) Names() []string {
	names := make([]string, len(i.Hosts))
	for idx, h := range i.Hosts {
		names[idx] = h.Name
	}
	return names
}

// Request describes one script execution.
type Request struct {
	ScriptPath string
	Inventory  Inventory
	Extravars  map[string]any
	Tags       []string
	LimitHosts []string
	// Cancellable=false marks teardown-style invocations that must run to
	// completion even under stop.
	Cancellable bool
}

// Result is the transport's outcome for one script execution.
type Result struct {
	RC     int
	Status string
	Stats  map[string]any
}

// Success reports the transport-level success condition.
func (r Result) Success() bool {
	return r.RC == 0 && r.Status == StatusSuccessful
}

// RemoteExecutor runs named scripts against a set of hosts.
type RemoteExecutor interface {
	// RunScript executes the script and blocks until it finishes or is
	// interrupted.
	RunScript(ctx context.Context, req Request) (Result, error)

	// Interrupt asks the in-flight execution to terminate.
	Interrupt()

	// IsRunning reports whether an execution is in flight.
	IsRunning() bool

	// EventLogPath is where the executor streams JSONL progress events, or
	// empty when it does not.
	EventLogPath() string
}
