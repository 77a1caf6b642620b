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
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/loadbench/internal/config"
	"github.com/tombee/loadbench/internal/executor"
	"github.com/tombee/loadbench/internal/journal"
	"github.com/tombee/loadbench/internal/plugin"
	"github.com/tombee/loadbench/internal/state"
	"github.com/tombee/loadbench/internal/stop"
	lberrors "github.com/tombee/loadbench/pkg/errors"
)

// RunIDFormat is the timestamp layout for generated run ids; the lexical
// order of generated ids follows creation time.
const RunIDFormat = "run-20060102-150405"

// NewRunID generates a run id from the current UTC time.
func NewRunID(now time.Time) string {
	return now.UTC().Format(RunIDFormat)
}

// Builder prepares Sessions for controller runs.
type Builder struct {
	Config       *config.Config
	StateMachine *state.Machine
	Registry     plugin.Registry
	StopTimeout  time.Duration
	Logger       *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// BuildRequest carries the optional inputs of Build.
type BuildRequest struct {
	TestNames []string
	// RunID is used for fresh runs when set; a resume always reuses the
	// journal's id.
	RunID string
	// Journal, when non-nil, marks a resume.
	Journal *journal.Journal
	// JournalPath overrides where the journal is persisted.
	JournalPath string
	// StopFilePath overrides the stop sentinel location.
	StopFilePath string
}

// Build assembles the session: resolves the run id, prepares directories,
// initializes or reconciles the journal, persists it immediately so resume
// works even if the run aborts before starting, and populates extravars.
func (b *Builder) Build(req BuildRequest) (*Session, error) {
	cfg := b.Config
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	runID := req.RunID
	if req.Journal != nil && req.Journal.RunID != "" {
		runID = req.Journal.RunID
	}
	if runID == "" {
		runID = NewRunID(now())
	}

	machine := b.StateMachine
	if machine == nil {
		machine = state.NewMachine(b.Logger)
	}

	stopTimeout := b.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = cfg.Timeouts.Stop.Std()
	}
	coordinator := stop.NewCoordinator(cfg.HostNames(), stopTimeout, runID, b.Logger)

	targetReps := cfg.Repetitions
	if req.Journal != nil && req.Journal.Metadata.Repetitions > 0 {
		targetReps = req.Journal.Metadata.Repetitions
	}

	outputRoot := filepath.Join(cfg.OutputRoot, runID)
	reportRoot := cfg.ReportRoot
	if reportRoot == "" {
		reportRoot = filepath.Join(cfg.OutputRoot, "reports")
	}
	reportRoot = filepath.Join(reportRoot, runID)
	dataExportRoot := filepath.Join(outputRoot, "export")

	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return nil, lberrors.Wrapf(err, "creating output root %s", outputRoot)
	}
	// Report and export roots are created on demand by their writers; only
	// the output root is guaranteed to exist.

	perHostOutput := make(map[string]string, len(cfg.Hosts))
	for _, host := range cfg.Hosts {
		hostDir := filepath.Join(outputRoot, host.Name)
		if err := os.MkdirAll(hostDir, 0755); err != nil {
			return nil, lberrors.Wrapf(err, "creating host output dir %s", hostDir)
		}
		perHostOutput[host.Name] = hostDir
	}

	activeJournal := req.Journal
	if activeJournal == nil {
		var err error
		activeJournal, err = journal.Initialize(runID, cfg, req.TestNames)
		if err != nil {
			return nil, err
		}
	} else {
		activeJournal.Reconcile(cfg, req.TestNames)
	}

	journalPath := req.JournalPath
	if journalPath == "" {
		journalPath = filepath.Join(outputRoot, "run_journal.json")
	}
	if err := activeJournal.Save(journalPath); err != nil {
		return nil, err
	}

	stopFilePath := req.StopFilePath
	if stopFilePath == "" {
		stopFilePath = filepath.Join(filepath.Dir(journalPath), "STOP")
	}

	extravars := b.buildExtravars(runID, outputRoot, reportRoot, dataExportRoot, perHostOutput, targetReps)

	return &Session{
		RunID:             runID,
		Inventory:         executor.Inventory{Hosts: cfg.Hosts},
		TargetRepetitions: targetReps,
		OutputRoot:        outputRoot,
		ReportRoot:        reportRoot,
		DataExportRoot:    dataExportRoot,
		PerHostOutput:     perHostOutput,
		Journal:           activeJournal,
		JournalPath:       journalPath,
		Extravars:         extravars,
		TestNames:         append([]string(nil), req.TestNames...),
		StateMachine:      machine,
		Coordinator:       coordinator,
		StopFilePath:      stopFilePath,
	}, nil
}

func (b *Builder) buildExtravars(runID, outputRoot, reportRoot, dataExportRoot string, perHostOutput map[string]string, targetReps int) map[string]any {
	cfg := b.Config

	hostOutput := make(map[string]any, len(perHostOutput))
	for host, dir := range perHostOutput {
		hostOutput[host] = dir
	}

	extravars := map[string]any{
		"lb_run_id":           runID,
		"lb_output_root":      outputRoot,
		"lb_report_root":      reportRoot,
		"lb_data_export_root": dataExportRoot,
		"lb_host_output":      hostOutput,
		"repetitions_total":   targetReps,
	}

	if dump, err := cfg.Dump(); err == nil {
		extravars["lb_config_dump"] = dump
	}
	if packages := b.collectorPackages(); len(packages) > 0 {
		extravars["lb_collector_packages"] = packages
	}

	// Per-workload plugin extras merge last, each key prefixed with the
	// workload name ("<workload>_<key>").
	if b.Registry != nil {
		for name, workload := range cfg.Workloads {
			descriptor, err := b.Registry.Get(workload.PluginID)
			if err != nil {
				continue
			}
			for key, value := range descriptor.SetupExtravars {
				extravars[name+"_"+key] = value
			}
		}
	}
	return extravars
}

func (b *Builder) collectorPackages() []string {
	if !b.Config.Collectors.CLICommands {
		return nil
	}
	return []string{"sysstat", "procps"}
}
