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

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tombee/loadbench/internal/app"
	"github.com/tombee/loadbench/internal/config"
	"github.com/tombee/loadbench/internal/provision"
	"github.com/tombee/loadbench/internal/state"
	"github.com/tombee/loadbench/internal/ui"
)

type runFlags struct {
	configPath          string
	runID               string
	resume              string
	intensity           string
	repetitions         int
	setup               bool
	executionMode       string
	nodeCount           int
	stopFile            string
	skipConnectivity    bool
	connectivityTimeout int
}

func (f *runFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.configPath, "config", "", "Path to the run configuration file")
	flags.StringVar(&f.runID, "run-id", "", "Explicit run identifier (default: timestamp-based)")
	flags.StringVar(&f.resume, "resume", "", "Resume a run by id, or 'latest'")
	flags.StringVar(&f.intensity, "intensity", "", "Override workload intensity (low|medium|high)")
	flags.IntVar(&f.repetitions, "repetitions", 0, "Override repetition count")
	flags.BoolVar(&f.setup, "setup", true, "Run the global setup phase")
	flags.StringVar(&f.executionMode, "execution-mode", provision.ModeRemote, "Execution mode (remote|docker|vm)")
	flags.IntVar(&f.nodeCount, "node-count", 0, "Number of nodes to provision")
	flags.StringVar(&f.stopFile, "stop-file", "", "Override the stop sentinel path")
	flags.BoolVar(&f.skipConnectivity, "skip-connectivity-check", false, "Skip the SSH pre-flight probe")
	flags.IntVar(&f.connectivityTimeout, "connectivity-timeout", 0, "Per-host connectivity probe timeout (seconds)")
}

func newRunCommand() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [workload...]",
		Short: "Execute benchmark workloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmarks(cmd, args, flags)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func runBenchmarks(cmd *cobra.Command, workloads []string, flags *runFlags) error {
	if err := validateRunFlags(flags); err != nil {
		return err
	}

	req := app.Request{
		ConfigPath:            flags.configPath,
		Workloads:             workloads,
		RunID:                 flags.runID,
		Repetitions:           flags.repetitions,
		Intensity:             flags.intensity,
		ExecutionMode:         flags.executionMode,
		NodeCount:             flags.nodeCount,
		StopFilePath:          flags.stopFile,
		SkipConnectivityCheck: flags.skipConnectivity,
		ConnectivityTimeout:   time.Duration(flags.connectivityTimeout) * time.Second,
	}
	if cmd.Flags().Changed("setup") {
		req.RunSetup = &flags.setup
	}

	if flags.resume != "" {
		journalPath, err := resolveResumeJournal(flags.configPath, flags.resume)
		if err != nil {
			return err
		}
		req.ResumeJournalPath = journalPath
	}

	return startRun(cmd, req)
}

func startRun(cmd *cobra.Command, req app.Request) error {
	out := cmd.OutOrStdout()
	headless := os.Getenv("LB_HEADLESS_UI") == "1" ||
		!term.IsTerminal(int(os.Stdout.Fd()))

	hooks := app.Hooks{
		OnLog: func(line string) {
			fmt.Fprintln(out, line)
		},
		OnWarning: func(message string) {
			if headless {
				fmt.Fprintln(out, "WARNING: "+message)
			} else {
				fmt.Fprintln(out, ui.Warn(message))
			}
		},
		OnStatus: func(s state.State, reason string) {
			if reason != "" {
				fmt.Fprintf(out, "state: %s (%s)\n", s, reason)
			} else {
				fmt.Fprintf(out, "state: %s\n", s)
			}
		},
	}

	a := app.New(nil)
	result, err := a.StartRun(context.Background(), req, hooks)
	if err != nil {
		return err
	}
	if result.Summary == nil {
		return nil
	}

	summary := result.Summary
	if summary.Success {
		if headless {
			fmt.Fprintf(out, "Run %s finished successfully\n", summary.RunID)
		} else {
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("Run %s finished successfully", summary.RunID)))
		}
		fmt.Fprintf(out, "Results: %s\n", summary.OutputRoot)
		return nil
	}

	message := fmt.Sprintf("Run %s ended in %s", summary.RunID, summary.ControllerState)
	if headless {
		fmt.Fprintln(out, message)
	} else {
		fmt.Fprintln(out, ui.Error(message))
	}
	for _, phase := range summary.FailedPhases() {
		fmt.Fprintf(out, "  failed phase: %s\n", phase)
	}
	return fmt.Errorf("run %s did not succeed (state %s)", summary.RunID, summary.ControllerState)
}

func validateRunFlags(flags *runFlags) error {
	switch flags.executionMode {
	case provision.ModeRemote, provision.ModeDocker, provision.ModeVM:
	default:
		return usageErrorf("invalid --execution-mode %q", flags.executionMode)
	}
	switch flags.intensity {
	case "", config.IntensityLow, config.IntensityMedium, config.IntensityHigh:
	default:
		return usageErrorf("invalid --intensity %q", flags.intensity)
	}
	if flags.repetitions < 0 {
		return usageErrorf("--repetitions must be >= 1")
	}
	return nil
}

// resolveResumeJournal maps a run id (or "latest") to its journal path under
// the configured output root.
func resolveResumeJournal(configPath, runID string) (string, error) {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return "", err
	}

	if runID == "latest" {
		latest, err := latestRunID(cfg.OutputRoot)
		if err != nil {
			return "", err
		}
		runID = latest
	}

	journalPath := filepath.Join(cfg.OutputRoot, runID, "run_journal.json")
	if _, err := os.Stat(journalPath); err != nil {
		return "", fmt.Errorf("no journal for run %s at %s", runID, journalPath)
	}
	return journalPath, nil
}

func loadConfigOrDefault(configPath string) (*config.Config, error) {
	path, err := config.Resolve(configPath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// latestRunID relies on the timestamp format: lexical order is creation
// order.
func latestRunID(outputRoot string) (string, error) {
	entries, err := os.ReadDir(outputRoot)
	if err != nil {
		return "", fmt.Errorf("reading output root %s: %w", outputRoot, err)
	}
	latest := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) < 4 || name[:4] != "run-" {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no runs found under %s", outputRoot)
	}
	return latest, nil
}
