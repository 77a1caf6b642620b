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

// Package state implements the controller run-lifecycle state machine.
package state

import (
	"log/slog"
	"sync"

	lberrors "github.com/tombee/loadbench/pkg/errors"
)

// State is a controller lifecycle state.
type State string

const (
	Init                      State = "INIT"
	RunningGlobalSetup        State = "RUNNING_GLOBAL_SETUP"
	RunningWorkloads          State = "RUNNING_WORKLOADS"
	RunningGlobalTeardown     State = "RUNNING_GLOBAL_TEARDOWN"
	StopArmed                 State = "STOP_ARMED"
	StoppingInterruptSetup    State = "STOPPING_INTERRUPT_SETUP"
	StoppingWaitRunners       State = "STOPPING_WAIT_RUNNERS"
	StoppingTeardown          State = "STOPPING_TEARDOWN"
	StoppingInterruptTeardown State = "STOPPING_INTERRUPT_TEARDOWN"
	StopFailed                State = "STOP_FAILED"
	Finished                  State = "FINISHED"
	Aborted                   State = "ABORTED"
	Failed                    State = "FAILED"
)

// allowedTransitions is the fixed edge table. INIT -> FINISHED exists only as
// a unit-test shortcut; real runs pass through a RUNNING_* state first.
var allowedTransitions = map[State][]State{
	Init: {RunningGlobalSetup, RunningWorkloads, StoppingInterruptSetup, Finished, Failed, Aborted},
	RunningGlobalSetup: {
		RunningWorkloads, StopArmed, StoppingInterruptSetup, Failed,
	},
	RunningWorkloads: {
		RunningGlobalTeardown, StopArmed, StoppingWaitRunners, Finished, Failed,
	},
	StopArmed: {
		RunningWorkloads, StoppingWaitRunners, StoppingInterruptSetup, Aborted, Failed,
	},
	StoppingInterruptSetup: {
		StoppingTeardown, StoppingWaitRunners, Aborted, Failed,
	},
	StoppingWaitRunners: {
		StoppingTeardown, StopFailed,
	},
	StoppingTeardown: {
		StoppingInterruptTeardown, Aborted, Finished, StopFailed,
	},
	StoppingInterruptTeardown: {
		Aborted, StopFailed,
	},
	RunningGlobalTeardown: {
		Finished, Failed, StoppingInterruptTeardown,
	},
	// Terminal states have no outgoing edges.
	Finished:   {},
	Aborted:    {},
	Failed:     {},
	StopFailed: {},
}

var terminalStates = map[State]bool{
	Finished:   true,
	Failed:     true,
	Aborted:    true,
	StopFailed: true,
}

// cleanupStates marks terminal states after which provisioned nodes may be
// destroyed. FAILED and STOP_FAILED retain nodes for inspection.
var cleanupStates = map[State]bool{
	Finished: true,
	Aborted:  true,
}

// Machine is the controller lifecycle FSM. One instance exists per run and
// every transition goes through it.
type Machine struct {
	mu     sync.Mutex
	state  State
	logger *slog.Logger
}

// NewMachine returns a Machine in INIT.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{state: Init, logger: logger}
}

// Transition moves to the given state if the edge table allows it. Invalid
// transitions return InvalidTransitionError and leave the state unchanged;
// callers log and drop the error.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == to {
		return nil
	}
	if !edgeAllowed(m.state, to) {
		return &lberrors.InvalidTransitionError{From: string(m.state), To: string(to)}
	}
	attrs := []any{slog.String("from", string(m.state)), slog.String("to", string(to))}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	m.logger.Debug("controller state transition", attrs...)
	m.state = to
	return nil
}

// MustTransition applies Transition and logs invalid edges instead of
// surfacing them. This is the caller policy for every production site.
func (m *Machine) MustTransition(to State, reason string) {
	if err := m.Transition(to, reason); err != nil {
		m.logger.Warn("dropped invalid controller state transition",
			slog.Any("error", err))
	}
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsTerminal reports whether the machine reached a terminal state.
func (m *Machine) IsTerminal() bool {
	return terminalStates[m.State()]
}

// AllowsCleanup reports whether provisioned resources may be destroyed.
func (m *Machine) AllowsCleanup() bool {
	return cleanupStates[m.State()]
}

func edgeAllowed(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
