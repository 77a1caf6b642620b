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

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/loadbench/internal/config"
	"github.com/tombee/loadbench/internal/journal"
	"github.com/tombee/loadbench/internal/state"
)

func builderConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.OutputRoot = t.TempDir()
	cfg.Repetitions = 2
	cfg.Hosts = []config.HostSpec{
		{Name: "h1", Address: "10.0.0.1"},
		{Name: "h2", Address: "10.0.0.2"},
	}
	cfg.Workloads = map[string]config.WorkloadSpec{
		"cpu": {Name: "cpu", PluginID: "cpu_stress", Enabled: true, Intensity: config.IntensityMedium},
	}
	return cfg
}

func TestBuildFreshRun(t *testing.T) {
	cfg := builderConfig(t)
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	b := &Builder{Config: cfg, Now: func() time.Time { return fixed }}

	sess, err := b.Build(BuildRequest{TestNames: []string{"cpu"}})
	require.NoError(t, err)

	assert.Equal(t, "run-20260314-092653", sess.RunID)
	assert.Equal(t, 2, sess.TargetRepetitions)
	assert.Len(t, sess.PerHostOutput, 2)

	// Output layout exists.
	for _, host := range []string{"h1", "h2"} {
		info, err := os.Stat(sess.PerHostOutput[host])
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Journal persisted immediately so a pre-run abort is still resumable.
	_, err = os.Stat(sess.JournalPath)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.Journal.TaskCount())

	// Stop file defaults next to the journal.
	assert.Equal(t, filepath.Join(filepath.Dir(sess.JournalPath), "STOP"), sess.StopFilePath)

	// Extravars carry the run identity and output layout.
	assert.Equal(t, sess.RunID, sess.Extravars["lb_run_id"])
	assert.Equal(t, 2, sess.Extravars["repetitions_total"])
	assert.Contains(t, sess.Extravars, "lb_config_dump")
}

func TestBuildExplicitRunID(t *testing.T) {
	b := &Builder{Config: builderConfig(t)}
	sess, err := b.Build(BuildRequest{TestNames: []string{"cpu"}, RunID: "run-custom"})
	require.NoError(t, err)
	assert.Equal(t, "run-custom", sess.RunID)
}

func TestBuildResumeReusesJournal(t *testing.T) {
	cfg := builderConfig(t)
	prior, err := journal.Initialize("run-prior", cfg, []string{"cpu"})
	require.NoError(t, err)
	prior.UpdateTask("h1", "cpu", 1, journal.StatusCompleted, journal.UpdateOpts{})

	b := &Builder{Config: cfg}
	sess, err := b.Build(BuildRequest{
		TestNames: []string{"cpu"},
		RunID:     "run-ignored",
		Journal:   prior,
	})
	require.NoError(t, err)

	// The journal's id wins over the provided one.
	assert.Equal(t, "run-prior", sess.RunID)
	assert.Equal(t, journal.StatusCompleted, sess.Journal.GetTask("h1", "cpu", 1).Status)
}

func TestBuildResumeReconcilesNewHosts(t *testing.T) {
	cfg := builderConfig(t)
	prior, err := journal.Initialize("run-prior", cfg, []string{"cpu"})
	require.NoError(t, err)

	grown := builderConfig(t)
	grown.OutputRoot = cfg.OutputRoot
	grown.Hosts = append(grown.Hosts, config.HostSpec{Name: "h3", Address: "10.0.0.3"})

	b := &Builder{Config: grown}
	sess, err := b.Build(BuildRequest{TestNames: []string{"cpu"}, Journal: prior})
	require.NoError(t, err)

	assert.NotNil(t, sess.Journal.GetTask("h3", "cpu", 1))
}

func TestBuildResumeTargetRepsFromJournalMetadata(t *testing.T) {
	cfg := builderConfig(t)
	prior, err := journal.Initialize("run-prior", cfg, []string{"cpu"})
	require.NoError(t, err)

	// The operator later bumps repetitions; the journal's plan wins.
	cfg.Repetitions = 9
	b := &Builder{Config: cfg}
	sess, err := b.Build(BuildRequest{TestNames: []string{"cpu"}, Journal: prior})
	require.NoError(t, err)
	assert.Equal(t, 2, sess.TargetRepetitions)
}

func TestSessionTransitionMirrorsJournal(t *testing.T) {
	b := &Builder{Config: builderConfig(t), StateMachine: state.NewMachine(nil)}
	sess, err := b.Build(BuildRequest{TestNames: []string{"cpu"}})
	require.NoError(t, err)

	sess.Transition(state.RunningWorkloads, "test")
	assert.Equal(t, string(state.RunningWorkloads), sess.Journal.Metadata.ControllerState)
}
