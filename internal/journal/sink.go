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

package journal

import (
	"log/slog"

	"github.com/tombee/loadbench/internal/events"
)

// EventSink maps accepted runner events onto journal task updates and
// persists after each one. It implements events.Sink.
type EventSink struct {
	Journal *Journal
	Path    string
	Logger  *slog.Logger
}

// Emit applies one event to the journal. Runner statuses map onto task
// statuses; "stopped" becomes FAILED with reason "stopped" — the task did
// not complete its repetitions.
func (s *EventSink) Emit(ev events.Event) {
	status, opts := mapEvent(ev)
	s.Journal.UpdateTask(ev.Host, ev.Workload, ev.Repetition, status, opts)
	if err := s.Journal.Save(s.Path); err != nil && s.Logger != nil {
		s.Logger.Error("persisting journal after event", slog.Any("error", err))
	}
}

func mapEvent(ev events.Event) (string, UpdateOpts) {
	opts := UpdateOpts{Action: "run_progress"}
	var status string
	switch ev.Status {
	case events.StatusDone:
		status = StatusCompleted
	case events.StatusFailed:
		status = StatusFailed
	case events.StatusSkipped:
		status = StatusSkipped
	case events.StatusStopped:
		status = StatusFailed
		opts.Action = "stopped"
	default:
		status = StatusRunning
	}
	if status == StatusFailed {
		opts.Error = ev.Message
		opts.ErrorType = ev.ErrorType
		opts.ErrorContext = ev.ErrorContext
		if ev.Status == events.StatusStopped && opts.Error == "" {
			opts.Error = "stopped"
		}
	}
	return status, opts
}
