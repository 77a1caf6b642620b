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
	"path/filepath"
	"testing"

	lberrors "github.com/tombee/loadbench/pkg/errors"

	"github.com/tombee/loadbench/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Hosts = []config.HostSpec{
		{Name: "h1", Address: "10.0.0.1"},
		{Name: "h2", Address: "10.0.0.2"},
	}
	cfg.Workloads = map[string]config.WorkloadSpec{
		"cpu": {Name: "cpu", PluginID: "cpu_stress", Enabled: true, Intensity: config.IntensityMedium},
		"io":  {Name: "io", PluginID: "disk_io", Enabled: true, Intensity: config.IntensityMedium},
	}
	cfg.Repetitions = 3
	cfg.OutputRoot = t.TempDir()
	return cfg
}

func TestInitializePlan(t *testing.T) {
	cfg := testConfig(t)
	j, err := Initialize("run-x", cfg, []string{"cpu", "io"})
	if err != nil {
		t.Fatal(err)
	}

	// P1: exactly one task per (host, workload, rep).
	if j.TaskCount() != 2*2*3 {
		t.Fatalf("task count = %d, want 12", j.TaskCount())
	}
	for _, host := range []string{"h1", "h2"} {
		for _, workload := range []string{"cpu", "io"} {
			for rep := 1; rep <= 3; rep++ {
				task := j.GetTask(host, workload, rep)
				if task == nil {
					t.Fatalf("missing task %s/%s/%d", host, workload, rep)
				}
				if task.Status != StatusPending {
					t.Errorf("initial status = %s", task.Status)
				}
			}
		}
	}
	if j.Metadata.ConfigHash == "" {
		t.Error("config hash not captured")
	}
	if j.Metadata.Repetitions != 3 {
		t.Errorf("metadata repetitions = %d", j.Metadata.Repetitions)
	}
}

func TestInitializeSkipsUnknownWorkloads(t *testing.T) {
	cfg := testConfig(t)
	j, err := Initialize("run-x", cfg, []string{"cpu", "mystery"})
	if err != nil {
		t.Fatal(err)
	}
	if j.TaskCount() != 2*3 {
		t.Errorf("unknown workload should not be planned, count = %d", j.TaskCount())
	}
}

func TestUpdateTaskTimings(t *testing.T) {
	cfg := testConfig(t)
	j, _ := Initialize("run-x", cfg, []string{"cpu"})

	j.UpdateTask("h1", "cpu", 1, StatusRunning, UpdateOpts{Action: "Executing"})
	task := j.GetTask("h1", "cpu", 1)
	if task.StartedAt == nil {
		t.Fatal("started_at not set on RUNNING")
	}
	started := *task.StartedAt

	// Idempotent progress: RUNNING -> RUNNING keeps the original start.
	j.UpdateTask("h1", "cpu", 1, StatusRunning, UpdateOpts{Action: "Still executing"})
	task = j.GetTask("h1", "cpu", 1)
	if *task.StartedAt != started {
		t.Error("started_at changed on repeated RUNNING")
	}

	j.UpdateTask("h1", "cpu", 1, StatusCompleted, UpdateOpts{})
	task = j.GetTask("h1", "cpu", 1)
	// P2: started_at <= finished_at, duration >= 0.
	if task.FinishedAt == nil || task.DurationSeconds == nil {
		t.Fatal("terminal transition must set finished_at and duration")
	}
	if *task.FinishedAt < *task.StartedAt {
		t.Error("finished before started")
	}
	if *task.DurationSeconds < 0 {
		t.Error("negative duration")
	}
}

func TestUpdateUnknownTaskIsNoop(t *testing.T) {
	cfg := testConfig(t)
	j, _ := Initialize("run-x", cfg, []string{"cpu"})
	before := j.TaskCount()
	j.UpdateTask("ghost", "cpu", 1, StatusRunning, UpdateOpts{})
	if j.TaskCount() != before {
		t.Error("updating an unplanned task must not create it")
	}
}

func TestShouldRun(t *testing.T) {
	cfg := testConfig(t)
	j, _ := Initialize("run-x", cfg, []string{"cpu"})

	j.UpdateTask("h1", "cpu", 1, StatusCompleted, UpdateOpts{})
	j.UpdateTask("h1", "cpu", 2, StatusSkipped, UpdateOpts{})

	// P5: completed never runs again.
	if j.ShouldRun("h1", "cpu", 1, true) || j.ShouldRun("h1", "cpu", 1, false) {
		t.Error("COMPLETED task should not run")
	}
	// SKIPPED re-runs only with allowSkipped.
	if !j.ShouldRun("h1", "cpu", 2, true) {
		t.Error("SKIPPED should re-run when allowSkipped")
	}
	if j.ShouldRun("h1", "cpu", 2, false) {
		t.Error("SKIPPED should be satisfied when allowSkipped=false")
	}
	if !j.ShouldRun("h1", "cpu", 3, false) {
		t.Error("PENDING should run")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	j, _ := Initialize("run-x", cfg, []string{"cpu"})
	j.UpdateTask("h1", "cpu", 1, StatusRunning, UpdateOpts{})
	j.UpdateTask("h1", "cpu", 1, StatusFailed, UpdateOpts{
		Error:        "boom",
		ErrorType:    "GeneratorError",
		ErrorContext: map[string]any{"rc": float64(1)},
	})

	path := filepath.Join(t.TempDir(), "nested", "run_journal.json")
	if err := j.Save(path); err != nil {
		t.Fatal(err)
	}

	// P4: round trip preserves the journal.
	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RunID != "run-x" {
		t.Errorf("run id = %s", loaded.RunID)
	}
	if loaded.TaskCount() != j.TaskCount() {
		t.Errorf("task count = %d, want %d", loaded.TaskCount(), j.TaskCount())
	}
	task := loaded.GetTask("h1", "cpu", 1)
	if task.Status != StatusFailed || task.Error != "boom" || task.ErrorType != "GeneratorError" {
		t.Errorf("task state lost: %+v", task)
	}
	if task.ErrorContext["rc"] != float64(1) {
		t.Errorf("error context lost: %v", task.ErrorContext)
	}
	if loaded.Metadata.ConfigHash != j.Metadata.ConfigHash {
		t.Error("metadata hash lost")
	}
}

func TestLoadCorruptJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_journal.json")
	if err := writeFile(path, "{not json"); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path, nil)
	var corrupt *lberrors.CorruptJournalError
	if !lberrors.As(err, &corrupt) {
		t.Fatalf("expected CorruptJournalError, got %v", err)
	}
}

func TestLoadResumeMismatch(t *testing.T) {
	cfg := testConfig(t)
	j, _ := Initialize("run-x", cfg, []string{"cpu"})
	path := filepath.Join(t.TempDir(), "run_journal.json")
	if err := j.Save(path); err != nil {
		t.Fatal(err)
	}

	t.Run("matching config loads", func(t *testing.T) {
		if _, err := Load(path, cfg); err != nil {
			t.Fatalf("matching config should load: %v", err)
		}
	})

	t.Run("changed config fails with both hashes", func(t *testing.T) {
		changed := testConfig(t)
		changed.Repetitions = 3
		changed.Workloads["extra"] = config.WorkloadSpec{
			Name: "extra", PluginID: "p", Intensity: config.IntensityLow,
		}
		_, err := Load(path, changed)
		var mismatch *lberrors.ResumeMismatchError
		if !lberrors.As(err, &mismatch) {
			t.Fatalf("expected ResumeMismatchError, got %v", err)
		}
		if mismatch.StoredHash == "" || mismatch.CurrentHash == "" {
			t.Error("mismatch should carry both hashes")
		}
		if !mismatch.HasConfigDump {
			t.Error("journal stores a config dump")
		}
	})

	t.Run("repetition mismatch fails", func(t *testing.T) {
		changed := testConfig(t)
		changed.Repetitions = 5
		if _, err := Load(path, changed); err == nil {
			t.Fatal("expected repetition mismatch error")
		}
	})
}

func TestRehydrateConfig(t *testing.T) {
	cfg := testConfig(t)
	j, _ := Initialize("run-x", cfg, []string{"cpu"})

	back := j.RehydrateConfig()
	if back == nil {
		t.Fatal("expected rehydrated config")
	}
	origHash, _ := cfg.Hash()
	backHash, _ := back.Hash()
	if origHash != backHash {
		t.Error("rehydrated config hash differs")
	}
}

func TestReconcileAddsNewTasks(t *testing.T) {
	cfg := testConfig(t)
	j, _ := Initialize("run-x", cfg, []string{"cpu"})
	j.UpdateTask("h1", "cpu", 1, StatusCompleted, UpdateOpts{})

	grown := testConfig(t)
	grown.Hosts = append(grown.Hosts, config.HostSpec{Name: "h3", Address: "10.0.0.3"})
	j.Reconcile(grown, []string{"cpu", "io"})

	if j.GetTask("h3", "cpu", 1) == nil {
		t.Error("new host tasks not added")
	}
	if j.GetTask("h1", "io", 1) == nil {
		t.Error("new workload tasks not added")
	}
	// Existing progress untouched.
	if j.GetTask("h1", "cpu", 1).Status != StatusCompleted {
		t.Error("reconcile must not reset existing tasks")
	}
}

func TestFailRunning(t *testing.T) {
	cfg := testConfig(t)
	j, _ := Initialize("run-x", cfg, []string{"cpu"})
	j.UpdateTask("h1", "cpu", 1, StatusRunning, UpdateOpts{})
	j.UpdateTask("h2", "cpu", 1, StatusCompleted, UpdateOpts{})

	j.FailRunning("stopped")

	task := j.GetTask("h1", "cpu", 1)
	if task.Status != StatusFailed || task.CurrentAction != "stopped" {
		t.Errorf("running task not failed: %+v", task)
	}
	if j.GetTask("h2", "cpu", 1).Status != StatusCompleted {
		t.Error("completed task must be untouched")
	}
}
