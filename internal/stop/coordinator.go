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

package stop

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tombee/loadbench/internal/events"
)

// CoordinatorState is the distributed-stop FSM state.
type CoordinatorState string

const (
	// StateIdle means no stop is in progress.
	StateIdle CoordinatorState = "IDLE"
	// StateStoppingWorkloads means the stop request went out and the
	// coordinator is collecting per-host confirmations.
	StateStoppingWorkloads CoordinatorState = "STOPPING_WORKLOADS"
	// StateTeardownReady means every expected runner confirmed.
	StateTeardownReady CoordinatorState = "TEARDOWN_READY"
	// StateStopFailed means confirmations timed out.
	StateStopFailed CoordinatorState = "STOP_FAILED"
)

// Coordinator tracks the distributed stop protocol: arm, request, collect
// per-host confirmations, and decide whether teardown is safe.
type Coordinator struct {
	mu        sync.Mutex
	expected  map[string]struct{}
	confirmed map[string]struct{}
	state     CoordinatorState
	timeout   time.Duration
	startTime time.Time
	runID     string
	logger    *slog.Logger
	clock     func() time.Time
}

// NewCoordinator creates an idle coordinator expecting confirmations from
// the given hosts.
func NewCoordinator(expectedRunners []string, timeout time.Duration, runID string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	expected := make(map[string]struct{}, len(expectedRunners))
	for _, host := range expectedRunners {
		expected[host] = struct{}{}
	}
	return &Coordinator{
		expected:  expected,
		confirmed: make(map[string]struct{}),
		state:     StateIdle,
		timeout:   timeout,
		runID:     runID,
		logger:    logger,
		clock:     time.Now,
	}
}

// InitiateStop transitions IDLE -> STOPPING_WORKLOADS and records the start
// time. A no-op once past IDLE. The caller is responsible for actually
// pushing the stop request to the hosts right after this.
func (c *Coordinator) InitiateStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return
	}
	c.logger.Info("initiating distributed stop protocol")
	c.state = StateStoppingWorkloads
	c.startTime = c.clock()
}

// ProcessEvent records stop confirmations. A runner that reports stopped,
// failed, cancelled, or done is no longer generating load — all count as
// confirmation. Duplicate confirmations are idempotent; events for other
// runs or unknown hosts are ignored.
func (c *Coordinator) ProcessEvent(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStoppingWorkloads {
		return
	}
	if c.runID != "" && ev.RunID != "" && ev.RunID != c.runID {
		return
	}
	if _, expected := c.expected[ev.Host]; !expected {
		return
	}

	switch ev.Status {
	case events.StatusStopped, events.StatusFailed, events.StatusCancelled, events.StatusDone:
	default:
		return
	}

	if _, dup := c.confirmed[ev.Host]; dup {
		return
	}
	c.logger.Info("stop confirmed",
		slog.String("host", ev.Host), slog.String("status", ev.Status))
	c.confirmed[ev.Host] = struct{}{}
	c.checkCompletionLocked()
}

func (c *Coordinator) checkCompletionLocked() {
	for host := range c.expected {
		if _, ok := c.confirmed[host]; !ok {
			return
		}
	}
	c.logger.Info("all runners confirmed stop; ready for teardown")
	c.state = StateTeardownReady
}

// CheckTimeout fails the protocol when confirmations take longer than the
// stop timeout.
func (c *Coordinator) CheckTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStoppingWorkloads {
		return
	}
	if c.clock().Sub(c.startTime) <= c.timeout {
		return
	}
	c.logger.Error("stop protocol timed out",
		slog.Any("missing", c.missingLocked()))
	c.state = StateStopFailed
}

// CanProceedToTeardown reports whether every runner confirmed.
func (c *Coordinator) CanProceedToTeardown() bool {
	return c.State() == StateTeardownReady
}

// State returns the current FSM state.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Missing returns the hosts that have not confirmed, sorted.
func (c *Coordinator) Missing() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missingLocked()
}

func (c *Coordinator) missingLocked() []string {
	var missing []string
	for host := range c.expected {
		if _, ok := c.confirmed[host]; !ok {
			missing = append(missing, host)
		}
	}
	sort.Strings(missing)
	return missing
}
