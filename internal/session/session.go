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

// Package session holds the per-run mutable state and the builder that is
// the only legitimate way to create it.
package session

import (
	"log/slog"

	"github.com/tombee/loadbench/internal/executor"
	"github.com/tombee/loadbench/internal/journal"
	"github.com/tombee/loadbench/internal/state"
	"github.com/tombee/loadbench/internal/stop"
)

// Session is the per-run state bundle: resolved identity, inventory, output
// layout, journal handle, and the stop/lifecycle machinery.
type Session struct {
	RunID             string
	Inventory         executor.Inventory
	TargetRepetitions int

	OutputRoot     string
	ReportRoot     string
	DataExportRoot string
	PerHostOutput  map[string]string

	Journal     *journal.Journal
	JournalPath string

	Extravars map[string]any
	TestNames []string

	StateMachine *state.Machine
	Coordinator  *stop.Coordinator
	StopFilePath string

	// OnTransition, when set, observes lifecycle transitions applied through
	// Transition. Set by the runner before the worker starts.
	OnTransition func(state.State, string)
}

// Transition moves the lifecycle machine, logging and dropping invalid
// edges, and mirrors the new state into the journal metadata.
func (s *Session) Transition(to state.State, reason string) {
	before := s.StateMachine.State()
	s.StateMachine.MustTransition(to, reason)
	after := s.StateMachine.State()
	s.Journal.SetControllerState(string(after))
	if s.OnTransition != nil && after != before {
		s.OnTransition(after, reason)
	}
}

// SaveJournal persists the journal to the session's journal path.
func (s *Session) SaveJournal(logger *slog.Logger) {
	if err := s.Journal.Save(s.JournalPath); err != nil && logger != nil {
		logger.Error("persisting journal", slog.Any("error", err))
	}
}

// AllowsCleanup reports whether provisioned nodes may be destroyed.
func (s *Session) AllowsCleanup() bool {
	return s.StateMachine.AllowsCleanup()
}
