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

// Package journal implements the durable per-run execution journal: the full
// task plan, per-task status with timing, and resume validation.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tombee/loadbench/internal/config"
	lberrors "github.com/tombee/loadbench/pkg/errors"
)

// Task statuses.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusSkipped   = "SKIPPED"
)

// TaskState is one atomic unit of work: (host, workload, repetition).
type TaskState struct {
	Host            string         `json:"host"`
	Workload        string         `json:"workload"`
	Repetition      int            `json:"repetition"`
	Status          string         `json:"status"`
	CurrentAction   string         `json:"current_action"`
	Timestamp       float64        `json:"timestamp"`
	Error           string         `json:"error,omitempty"`
	ErrorType       string         `json:"error_type,omitempty"`
	ErrorContext    map[string]any `json:"error_context,omitempty"`
	StartedAt       *float64       `json:"started_at"`
	FinishedAt      *float64       `json:"finished_at"`
	DurationSeconds *float64       `json:"duration_seconds"`
}

// Key returns the journal key for this task.
func (t *TaskState) Key() string {
	return TaskKey(t.Host, t.Workload, t.Repetition)
}

// TaskKey builds the canonical journal key.
func TaskKey(host, workload string, rep int) string {
	return fmt.Sprintf("%s::%s::%d", host, workload, rep)
}

// Metadata is the journal's run-level metadata block.
type Metadata struct {
	CreatedAt       string            `json:"created_at"`
	Repetitions     int               `json:"repetitions"`
	ConfigDump      map[string]any    `json:"config_dump,omitempty"`
	ConfigHash      string            `json:"config_hash,omitempty"`
	ExecutionMode   string            `json:"execution_mode,omitempty"`
	NodeCount       int               `json:"node_count,omitempty"`
	ControllerState string            `json:"controller_state,omitempty"`
	SystemInfo      map[string]string `json:"system_info"`
}

// Journal contains the entire execution plan and state for one run. All
// mutation goes through its methods; the mutex covers both in-memory state
// and the single file on disk.
type Journal struct {
	mu sync.Mutex

	RunID    string
	Tasks    map[string]*TaskState
	Metadata Metadata

	now func() float64
}

type journalDoc struct {
	RunID    string       `json:"run_id"`
	Tasks    []*TaskState `json:"tasks"`
	Metadata Metadata     `json:"metadata"`
}

func wallClock() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// UpdateOpts carries the optional fields of UpdateTask.
type UpdateOpts struct {
	Action       string
	Error        string
	ErrorType    string
	ErrorContext map[string]any
}

// Initialize creates a new journal covering hosts x workloads x repetitions,
// all PENDING, and captures the config dump and hash.
func Initialize(runID string, cfg *config.Config, workloadNames []string) (*Journal, error) {
	dump, err := cfg.Dump()
	if err != nil {
		return nil, lberrors.Wrap(err, "serializing config for journal")
	}

	j := &Journal{
		RunID: runID,
		Tasks: make(map[string]*TaskState),
		Metadata: Metadata{
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			Repetitions: cfg.Repetitions,
			ConfigDump:  dump,
			ConfigHash:  config.HashDump(dump),
			NodeCount:   len(cfg.Hosts),
			SystemInfo:  map[string]string{},
		},
		now: wallClock,
	}
	j.addPlan(cfg, workloadNames)
	return j, nil
}

func (j *Journal) addPlan(cfg *config.Config, workloadNames []string) {
	now := j.now()
	for _, workload := range workloadNames {
		if _, known := cfg.Workloads[workload]; !known {
			continue
		}
		for _, host := range cfg.Hosts {
			for rep := 1; rep <= cfg.Repetitions; rep++ {
				task := &TaskState{
					Host:       host.Name,
					Workload:   workload,
					Repetition: rep,
					Status:     StatusPending,
					Timestamp:  now,
				}
				if _, exists := j.Tasks[task.Key()]; !exists {
					j.Tasks[task.Key()] = task
				}
			}
		}
	}
}

// Reconcile adds any tasks the current config covers that the loaded journal
// does not — new hosts or workloads introduced since the original run.
func (j *Journal) Reconcile(cfg *config.Config, workloadNames []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.addPlan(cfg, workloadNames)
}

// Load reads a journal from disk. When expected is non-nil, repetitions and
// config hash are validated; a mismatch fails with ResumeMismatchError.
func Load(path string, expected *config.Config) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lberrors.Wrapf(err, "reading journal %s", path)
	}
	var doc journalDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &lberrors.CorruptJournalError{Path: path, Err: err}
	}

	j := &Journal{
		RunID:    doc.RunID,
		Tasks:    make(map[string]*TaskState, len(doc.Tasks)),
		Metadata: doc.Metadata,
		now:      wallClock,
	}
	if j.Metadata.SystemInfo == nil {
		j.Metadata.SystemInfo = map[string]string{}
	}
	for _, task := range doc.Tasks {
		j.Tasks[task.Key()] = task
	}

	if expected != nil {
		if err := j.validateAgainst(path, expected); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (j *Journal) validateAgainst(path string, expected *config.Config) error {
	if j.Metadata.Repetitions != 0 && expected.Repetitions != j.Metadata.Repetitions {
		return &lberrors.ResumeMismatchError{
			JournalPath:   path,
			StoredHash:    j.Metadata.ConfigHash,
			CurrentHash:   fmt.Sprintf("repetitions=%d", expected.Repetitions),
			HasConfigDump: len(j.Metadata.ConfigDump) > 0,
		}
	}
	if j.Metadata.ConfigHash == "" {
		return nil
	}
	currentHash, err := expected.Hash()
	if err != nil {
		return lberrors.Wrap(err, "hashing current config")
	}
	if currentHash != j.Metadata.ConfigHash {
		return &lberrors.ResumeMismatchError{
			JournalPath:   path,
			StoredHash:    j.Metadata.ConfigHash,
			CurrentHash:   currentHash,
			HasConfigDump: len(j.Metadata.ConfigDump) > 0,
		}
	}
	return nil
}

// GetTask returns a copy of the task, or nil when absent.
func (j *Journal) GetTask(host, workload string, rep int) *TaskState {
	j.mu.Lock()
	defer j.mu.Unlock()
	task, ok := j.Tasks[TaskKey(host, workload, rep)]
	if !ok {
		return nil
	}
	cp := *task
	return &cp
}

// UpdateTask applies a status change with the timing rules: started_at on
// first RUNNING, finished_at and duration on any terminal transition. A
// missing task is silently ignored — the orchestrator may see stale events
// for tasks that were never planned.
func (j *Journal) UpdateTask(host, workload string, rep int, status string, opts UpdateOpts) {
	j.mu.Lock()
	defer j.mu.Unlock()

	task, ok := j.Tasks[TaskKey(host, workload, rep)]
	if !ok {
		return
	}

	now := j.now()
	if status == StatusRunning && task.StartedAt == nil {
		started := now
		task.StartedAt = &started
	}
	if status == StatusCompleted || status == StatusFailed || status == StatusSkipped {
		finished := now
		task.FinishedAt = &finished
		if task.StartedAt != nil {
			duration := finished - *task.StartedAt
			if duration < 0 {
				duration = 0
			}
			task.DurationSeconds = &duration
		}
	}

	task.Status = status
	task.Timestamp = now
	if opts.Action != "" {
		task.CurrentAction = opts.Action
	}
	if opts.Error != "" {
		task.Error = opts.Error
	}
	if opts.ErrorType != "" {
		task.ErrorType = opts.ErrorType
	}
	if opts.ErrorContext != nil {
		task.ErrorContext = opts.ErrorContext
	}
}

// ShouldRun reports whether a task still needs execution. With allowSkipped,
// only COMPLETED satisfies the task; otherwise SKIPPED does too. Unknown
// tasks run (they should not exist if the plan was initialized correctly).
func (j *Journal) ShouldRun(host, workload string, rep int, allowSkipped bool) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	task, ok := j.Tasks[TaskKey(host, workload, rep)]
	if !ok {
		return true
	}
	if allowSkipped {
		return task.Status != StatusCompleted
	}
	return task.Status != StatusCompleted && task.Status != StatusSkipped
}

// SetAction updates the progress label of an in-flight task. Tasks that
// already reached a terminal status keep their label.
func (j *Journal) SetAction(host, workload string, rep int, action string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	task, ok := j.Tasks[TaskKey(host, workload, rep)]
	if !ok {
		return
	}
	if task.Status != StatusPending && task.Status != StatusRunning {
		return
	}
	task.CurrentAction = action
	task.Timestamp = j.now()
}

// FailRunning marks every RUNNING task FAILED with the given reason. Used
// when a stop interrupts in-flight workloads.
func (j *Journal) FailRunning(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	for _, task := range j.Tasks {
		if task.Status != StatusRunning {
			continue
		}
		task.Status = StatusFailed
		task.CurrentAction = reason
		task.Error = reason
		task.Timestamp = now
		finished := now
		task.FinishedAt = &finished
		if task.StartedAt != nil {
			duration := finished - *task.StartedAt
			if duration < 0 {
				duration = 0
			}
			task.DurationSeconds = &duration
		}
	}
}

// SetControllerState records the lifecycle state in the metadata block.
func (j *Journal) SetControllerState(state string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Metadata.ControllerState = state
}

// SetSystemInfo attaches a per-host system summary.
func (j *Journal) SetSystemInfo(host, summary string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Metadata.SystemInfo[host] = summary
}

// Save persists the journal atomically (write-temp-then-rename), creating
// parent directories on demand. Every call is a full rewrite; the journal is
// small.
func (j *Journal) Save(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.saveLocked(path)
}

func (j *Journal) saveLocked(path string) error {
	doc := journalDoc{
		RunID:    j.RunID,
		Tasks:    make([]*TaskState, 0, len(j.Tasks)),
		Metadata: j.Metadata,
	}
	keys := make([]string, 0, len(j.Tasks))
	for key := range j.Tasks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		doc.Tasks = append(doc.Tasks, j.Tasks[key])
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return lberrors.Wrap(err, "serializing journal")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return lberrors.Wrapf(err, "creating journal dir for %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return lberrors.Wrapf(err, "writing journal %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return lberrors.Wrapf(err, "replacing journal %s", path)
	}
	return nil
}

// RehydrateConfig reconstructs the run config from the stored config_dump.
// Returns nil when no dump was stored.
func (j *Journal) RehydrateConfig() *config.Config {
	j.mu.Lock()
	dump := j.Metadata.ConfigDump
	j.mu.Unlock()

	if len(dump) == 0 {
		return nil
	}
	cfg, err := config.FromDump(dump)
	if err != nil {
		return nil
	}
	return cfg
}

// TaskCount returns the number of planned tasks.
func (j *Journal) TaskCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.Tasks)
}

// CountByStatus returns the number of tasks per status.
func (j *Journal) CountByStatus() map[string]int {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]int)
	for _, task := range j.Tasks {
		out[task.Status]++
	}
	return out
}
