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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/loadbench/internal/config"
)

// GeneratorResult is the load-generator outcome recorded per repetition in a
// results artifact.
type GeneratorResult struct {
	Error      string `json:"error,omitempty"`
	ReturnCode *int   `json:"returncode,omitempty"`
	Command    string `json:"command,omitempty"`
}

// ResultEntry is one repetition's record in a <workload>_results.json file.
type ResultEntry struct {
	Repetition      int             `json:"repetition"`
	StartTime       string          `json:"start_time,omitempty"`
	EndTime         string          `json:"end_time,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	GeneratorResult GeneratorResult `json:"generator_result"`
	Error           string          `json:"error,omitempty"`
	ErrorType       string          `json:"error_type,omitempty"`
	ErrorContext    map[string]any  `json:"error_context,omitempty"`
}

// BackfillTimings updates per-repetition timing and status from the
// <workload>_results.json artifacts left under each host's output dir.
// The search is recursive; when the same file name appears in several
// subdirectories the newest by mtime wins. Returns true when any task was
// updated.
func BackfillTimings(j *Journal, hosts []config.HostSpec, workload string, perHostOutput map[string]string) bool {
	updated := false
	for _, host := range hosts {
		seen := make(map[int]bool)
		for _, entry := range collectResults(perHostOutput[host.Name], workload) {
			if seen[entry.Repetition] {
				continue
			}
			if applyResultEntry(j, host.Name, workload, entry) {
				seen[entry.Repetition] = true
				updated = true
			}
		}
	}
	return updated
}

func collectResults(hostDir, workload string) []ResultEntry {
	if hostDir == "" {
		return nil
	}
	matches, err := doublestar.Glob(os.DirFS(hostDir), "**/"+workload+"_results.json")
	if err != nil {
		return nil
	}
	// Newest file by mtime wins when duplicate names exist in subdirectories.
	sort.Slice(matches, func(a, b int) bool {
		return resultMtime(hostDir, matches[a]).After(resultMtime(hostDir, matches[b]))
	})

	var entries []ResultEntry
	for _, match := range matches {
		data, err := os.ReadFile(filepath.Join(hostDir, match))
		if err != nil {
			continue
		}
		var fileEntries []ResultEntry
		if err := json.Unmarshal(data, &fileEntries); err != nil {
			continue
		}
		entries = append(entries, fileEntries...)
	}
	return entries
}

func resultMtime(root, rel string) time.Time {
	info, err := os.Stat(filepath.Join(root, rel))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func applyResultEntry(j *Journal, host, workload string, entry ResultEntry) bool {
	if entry.Repetition == 0 {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	task, ok := j.Tasks[TaskKey(host, workload, entry.Repetition)]
	if !ok {
		return false
	}

	applyEntryTimings(task, entry)
	applyEntryStatus(task, entry)
	task.Timestamp = j.now()
	return true
}

func applyEntryTimings(task *TaskState, entry ResultEntry) {
	if entry.StartTime != "" {
		if ts, err := time.Parse(time.RFC3339, entry.StartTime); err == nil {
			started := float64(ts.UnixNano()) / float64(time.Second)
			task.StartedAt = &started
		}
	}
	if entry.EndTime != "" {
		if ts, err := time.Parse(time.RFC3339, entry.EndTime); err == nil {
			finished := float64(ts.UnixNano()) / float64(time.Second)
			task.FinishedAt = &finished
		}
	}
	if entry.DurationSeconds != nil {
		duration := *entry.DurationSeconds
		task.DurationSeconds = &duration
	} else if task.StartedAt != nil && task.FinishedAt != nil {
		duration := *task.FinishedAt - *task.StartedAt
		if duration < 0 {
			duration = 0
		}
		task.DurationSeconds = &duration
	}
}

func applyEntryStatus(task *TaskState, entry ResultEntry) {
	gen := entry.GeneratorResult
	if gen.Error != "" || (gen.ReturnCode != nil && *gen.ReturnCode != 0) {
		task.Status = StatusFailed
		msg := composeGeneratorError(gen)
		task.CurrentAction = msg
		task.Error = msg
		task.ErrorType = entry.ErrorType
		task.ErrorContext = entry.ErrorContext
		return
	}
	if entry.ErrorType != "" {
		task.Status = StatusFailed
		msg := entry.Error
		if msg == "" {
			msg = "error recorded"
		}
		task.CurrentAction = msg
		task.Error = msg
		task.ErrorType = entry.ErrorType
		task.ErrorContext = entry.ErrorContext
		return
	}
	if task.Status != StatusFailed && task.Status != StatusSkipped {
		task.Status = StatusCompleted
	}
}

func composeGeneratorError(gen GeneratorResult) string {
	var parts []string
	if gen.Error != "" {
		parts = append(parts, gen.Error)
	}
	if gen.ReturnCode != nil && *gen.ReturnCode != 0 {
		parts = append(parts, fmt.Sprintf("returncode=%d", *gen.ReturnCode))
	}
	if gen.Command != "" {
		parts = append(parts, fmt.Sprintf("cmd=%s", gen.Command))
	}
	if len(parts) == 0 {
		return "workload reported an error"
	}
	return strings.Join(parts, " | ")
}
