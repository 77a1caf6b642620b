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

// Package events ingests progress events from remote runners — event-log
// tail, stdout markers, and direct callbacks — deduplicates them, and fans
// them out to the journal, the stop coordinator, and the dashboard.
package events

import (
	"fmt"
	"time"
)

// Runner progress statuses carried on the wire.
const (
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// Event types.
const (
	TypeStatus = "status"
	TypeLog    = "log"
)

// Event is one progress record from a remote runner.
type Event struct {
	RunID            string         `json:"run_id"`
	Host             string         `json:"host"`
	Workload         string         `json:"workload"`
	Repetition       int            `json:"repetition"`
	TotalRepetitions int            `json:"total_repetitions"`
	Status           string         `json:"status"`
	Message          string         `json:"message"`
	Type             string         `json:"type"`
	Level            string         `json:"level"`
	ErrorType        string         `json:"error_type,omitempty"`
	ErrorContext     map[string]any `json:"error_context,omitempty"`
	Timestamp        float64        `json:"timestamp"`
}

// FromPayload converts a decoded JSON payload into an Event. The payload must
// carry host, workload, repetition, and status; everything else defaults.
func FromPayload(data map[string]any, runID string, defaultTotal int) (Event, bool) {
	for _, key := range []string{"host", "workload", "repetition", "status"} {
		if _, ok := data[key]; !ok {
			return Event{}, false
		}
	}

	ev := Event{
		RunID:      stringField(data, "run_id"),
		Host:       stringField(data, "host"),
		Workload:   stringField(data, "workload"),
		Repetition: intField(data, "repetition"),
		Status:     stringField(data, "status"),
		Message:    stringField(data, "message"),
		Type:       stringField(data, "type"),
		Level:      stringField(data, "level"),
		ErrorType:  stringField(data, "error_type"),
		Timestamp:  floatField(data, "timestamp"),
	}
	if ev.RunID == "" {
		ev.RunID = runID
	}
	ev.TotalRepetitions = intField(data, "total_repetitions")
	if ev.TotalRepetitions == 0 {
		ev.TotalRepetitions = intField(data, "total")
	}
	if ev.TotalRepetitions == 0 {
		ev.TotalRepetitions = defaultTotal
	}
	if ev.Type == "" {
		ev.Type = TypeStatus
	}
	if ev.Level == "" {
		ev.Level = "INFO"
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	if ctx, ok := data["error_context"].(map[string]any); ok {
		ev.ErrorContext = ctx
	}
	return ev, true
}

// LogLine renders the single-line representation written to the run log and
// pushed to the dashboard hook.
func (e Event) LogLine() string {
	ts := time.Unix(0, int64(e.Timestamp*float64(time.Second))).UTC().Format(time.RFC3339)
	line := fmt.Sprintf("[%s] %s %s rep %d/%d status=%s",
		ts, e.Host, e.Workload, e.Repetition, e.TotalRepetitions, e.Status)
	if e.Type != "" && e.Type != TypeStatus {
		line += fmt.Sprintf(" type=%s", e.Type)
	}
	if e.Level != "" && e.Level != "INFO" {
		line += fmt.Sprintf(" level=%s", e.Level)
	}
	if e.Message != "" {
		line += fmt.Sprintf(" msg=%s", e.Message)
	}
	if e.ErrorType != "" {
		line += fmt.Sprintf(" err_type=%s", e.ErrorType)
	}
	return line
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func floatField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
