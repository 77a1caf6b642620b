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

// Package app is the top-level facade UIs drive: config resolution,
// connectivity pre-flight, provisioning, session assembly, and run
// supervision with interrupt handling.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/loadbench/internal/config"
	"github.com/tombee/loadbench/internal/connectivity"
	"github.com/tombee/loadbench/internal/events"
	"github.com/tombee/loadbench/internal/executor"
	"github.com/tombee/loadbench/internal/history"
	"github.com/tombee/loadbench/internal/journal"
	lblog "github.com/tombee/loadbench/internal/log"
	"github.com/tombee/loadbench/internal/metrics"
	"github.com/tombee/loadbench/internal/orchestrator"
	"github.com/tombee/loadbench/internal/plugin"
	"github.com/tombee/loadbench/internal/provision"
	"github.com/tombee/loadbench/internal/session"
	"github.com/tombee/loadbench/internal/state"
	"github.com/tombee/loadbench/internal/stop"
	"github.com/tombee/loadbench/internal/sysinfo"
	"github.com/tombee/loadbench/internal/tracing"
	lberrors "github.com/tombee/loadbench/pkg/errors"
)

// waitTick is the supervision loop's wait quantum.
const waitTick = 200 * time.Millisecond

// Hooks are the structured callbacks a UI attaches to a run.
type Hooks struct {
	OnStatus  func(newState state.State, reason string)
	OnWarning func(message string)
	OnLog     func(line string)
}

func (h Hooks) warn(message string) {
	if h.OnWarning != nil {
		h.OnWarning(message)
	}
}

func (h Hooks) log(line string) {
	if h.OnLog != nil {
		h.OnLog(line)
	}
}

// Request describes one StartRun invocation.
type Request struct {
	// ConfigPath names an explicit config file; when empty, LB_CONFIG_PATH
	// and the XDG location are consulted, then defaults.
	ConfigPath string
	// Config bypasses resolution entirely when non-nil.
	Config *config.Config

	// Workloads filters the enabled workloads; empty means all.
	Workloads []string

	RunID string
	// ResumeJournalPath, when set, resumes from the given journal.
	ResumeJournalPath string

	Repetitions   int
	Intensity     string
	ExecutionMode string
	NodeCount     int

	StopFilePath          string
	SkipConnectivityCheck bool
	ConnectivityTimeout   time.Duration

	// RunSetup overrides config.remote_execution.run_setup when non-nil.
	RunSetup *bool
}

// RunResult is StartRun's outcome.
type RunResult struct {
	Summary     *orchestrator.Summary
	JournalPath string
	LogPath     string
	UILogPath   string
}

// App owns process-wide collaborators. Construct one per process.
type App struct {
	Logger      *slog.Logger
	Registry    plugin.Registry
	Provisioner provision.Provisioner
	Metrics     *metrics.Metrics
	Tracer      *tracing.Provider

	// NewExecutor builds the transport for a run; the executor's stdout is
	// the event tee. Defaults to the local subprocess executor.
	NewExecutor func(stdout io.Writer) executor.RemoteExecutor

	// Checker overrides the connectivity prober in tests.
	Checker *connectivity.Checker

	lastProvision *provision.Result
}

// New creates an App with default collaborators.
func New(logger *slog.Logger) *App {
	if logger == nil {
		logger = lblog.New(lblog.FromEnv())
	}
	return &App{
		Logger:   logger,
		Registry: plugin.Builtin(),
		Metrics:  metrics.New(),
	}
}

// StartRun executes one full run and returns its result. Pre-run failures
// (config, resume validation, connectivity, provisioning) return an error
// and no result; once the orchestrator starts, failures are values inside
// the summary.
func (a *App) StartRun(ctx context.Context, req Request, hooks Hooks) (*RunResult, error) {
	cfg, priorJournal, err := a.resolveConfig(req)
	if err != nil {
		return nil, err
	}
	a.applyOverrides(cfg, req)

	if err := a.preflight(ctx, cfg, req, hooks); err != nil {
		return nil, err
	}

	if err := a.provisionHosts(ctx, cfg, req, hooks); err != nil {
		return nil, err
	}

	workloads := cfg.EnabledWorkloads(req.Workloads)
	resume := priorJournal != nil
	if resume && !journal.PendingExists(priorJournal, workloads, cfg.Hosts, targetReps(priorJournal, cfg), true) {
		hooks.log("Nothing to resume: all tasks already satisfied")
		return &RunResult{JournalPath: req.ResumeJournalPath}, nil
	}

	builder := &session.Builder{
		Config:   cfg,
		Registry: a.Registry,
		Logger:   a.Logger,
	}
	sess, err := builder.Build(session.BuildRequest{
		TestNames:    workloads,
		RunID:        req.RunID,
		Journal:      priorJournal,
		JournalPath:  req.ResumeJournalPath,
		StopFilePath: req.StopFilePath,
	})
	if err != nil {
		return nil, err
	}

	return a.execute(ctx, cfg, sess, resume, hooks)
}

func (a *App) resolveConfig(req Request) (*config.Config, *journal.Journal, error) {
	cfg := req.Config
	if cfg == nil {
		path, err := config.Resolve(req.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
		if path != "" {
			cfg, err = config.Load(path)
			if err != nil {
				return nil, nil, err
			}
		} else {
			cfg = config.Default()
		}
	}

	if req.ResumeJournalPath == "" {
		return cfg, nil, nil
	}

	prior, err := journal.Load(req.ResumeJournalPath, cfg)
	if err == nil {
		return cfg, prior, nil
	}

	// A hash mismatch is recoverable when the journal stored its config:
	// rehydrate and run with the original configuration.
	var mismatch *lberrors.ResumeMismatchError
	if lberrors.As(err, &mismatch) && mismatch.HasConfigDump {
		prior, loadErr := journal.Load(req.ResumeJournalPath, nil)
		if loadErr != nil {
			return nil, nil, loadErr
		}
		rehydrated := prior.RehydrateConfig()
		if rehydrated == nil {
			return nil, nil, err
		}
		rehydrated.OutputRoot = cfg.OutputRoot
		a.Logger.Warn("config hash mismatch; resuming with the journal's stored config",
			slog.String("journal", req.ResumeJournalPath))
		return rehydrated, prior, nil
	}
	return nil, nil, err
}

func (a *App) applyOverrides(cfg *config.Config, req Request) {
	if req.Repetitions > 0 {
		cfg.Repetitions = req.Repetitions
	}
	if req.Intensity != "" {
		for name, workload := range cfg.Workloads {
			workload.Intensity = req.Intensity
			cfg.Workloads[name] = workload
		}
	}
	if req.RunSetup != nil {
		cfg.RemoteExecution.RunSetup = *req.RunSetup
	}
}

func (a *App) preflight(ctx context.Context, cfg *config.Config, req Request, hooks Hooks) error {
	mode := req.ExecutionMode
	if mode == "" {
		mode = provision.ModeRemote
	}
	if req.SkipConnectivityCheck || mode != provision.ModeRemote || len(cfg.Hosts) == 0 {
		return nil
	}

	checker := a.Checker
	if checker == nil {
		timeout := req.ConnectivityTimeout
		if timeout <= 0 {
			timeout = cfg.Timeouts.Connectivity.Std()
		}
		checker = connectivity.NewChecker(timeout)
	}

	report := checker.Check(ctx, cfg.Hosts)
	if report.AllReachable() {
		return nil
	}
	err := &lberrors.ConnectivityError{Unreachable: report.Unreachable()}
	hooks.warn(err.Error())
	return err
}

func (a *App) provisionHosts(ctx context.Context, cfg *config.Config, req Request, hooks Hooks) error {
	provisioner := a.Provisioner
	if provisioner == nil {
		provisioner = &provision.Static{Config: cfg}
	}
	result, err := provisioner.Provision(ctx, req.ExecutionMode, req.NodeCount)
	if err != nil {
		hooks.warn(err.Error())
		return err
	}
	cfg.Hosts = result.Nodes
	a.lastProvision = result
	return nil
}

func (a *App) execute(ctx context.Context, cfg *config.Config, sess *session.Session, resume bool, hooks Hooks) (*RunResult, error) {
	logPath := filepath.Join(sess.OutputRoot, "run.log")
	runLog := lblog.NewRunLogWriter(logPath)
	defer runLog.Close()

	uiLogPath := filepath.Join(sess.OutputRoot, "ui_stream.log")
	uiLog, uiErr := os.OpenFile(uiLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if uiErr != nil {
		uiLog = nil
		uiLogPath = ""
	}
	defer func() {
		if uiLog != nil {
			uiLog.Close()
		}
	}()

	uiLine := func(line string) {
		hooks.log(line)
		if uiLog != nil {
			uiLog.WriteString(line + "\n")
		}
	}

	token := stop.NewToken(
		stop.WithStopFile(sess.StopFilePath),
		stop.WithOnStop(func() { a.Logger.Info("stop requested") }),
	)
	if err := token.Watch(); err != nil {
		a.Logger.Warn("stop-file watcher unavailable; relying on polling",
			slog.Any("error", err))
	}
	defer token.Close()

	pipeline := events.NewPipeline(
		events.WithJournal(&journal.EventSink{Journal: sess.Journal, Path: sess.JournalPath, Logger: a.Logger}),
		events.WithForward(sess.Coordinator.ProcessEvent),
		events.WithForward(func(events.Event) { a.countJournalSave() }),
		events.WithLogLine(uiLine),
		events.WithCounters(a.countAccepted, a.countDropped),
	)

	tee := events.NewTee(runLog,
		pipeline.MarkerHandler(events.DefaultMarker, sess.RunID, sess.TargetRepetitions), nil)
	defer tee.Flush()

	newExecutor := a.NewExecutor
	if newExecutor == nil {
		newExecutor = func(stdout io.Writer) executor.RemoteExecutor {
			local := executor.NewLocal(stdout)
			if os.Getenv("LB_ENABLE_EVENT_LOGGING") == "1" {
				local.Env = append(local.Env, "LB_ENABLE_EVENT_LOGGING=1")
			}
			return local
		}
	}
	exec := newExecutor(tee)

	var tailer *events.Tailer
	if eventLog := exec.EventLogPath(); eventLog != "" {
		tailer = events.NewTailer(eventLog, 0, func(data map[string]any) {
			pipeline.IngestPayload(data, sess.RunID, sess.TargetRepetitions)
		})
		tailer.Start()
		defer tailer.Stop()
	}

	runner := &orchestrator.Runner{
		Orchestrator: &orchestrator.Orchestrator{
			Config:   cfg,
			Executor: exec,
			Registry: a.Registry,
			Token:    token,
			Logger:   a.Logger,
			Tracer:   a.Tracer,
			Metrics:  a.Metrics,
			UILog:    uiLine,
		},
		Session: sess,
		Resume:  resume,
	}
	if hooks.OnStatus != nil {
		runner.OnStateChange = hooks.OnStatus
	}

	interrupts := stop.NewInterruptHandler(stop.InterruptHandlerConfig{
		RunActive:   func() bool { return !sess.StateMachine.IsTerminal() },
		OnFirst:     func() { hooks.warn("Press Ctrl+C again to stop the execution") },
		OnConfirmed: func() { runner.ArmStop("User requested stop") },
		OnDisarm:    func() { hooks.log("Stop request expired; run continues") },
	})
	defer interrupts.Close()

	runner.Start(ctx)
	summary, err := a.superviseRun(runner)
	interrupts.MarkFinished()
	if err != nil {
		return nil, err
	}

	a.finishRun(ctx, sess, summary, token, hooks)
	return &RunResult{
		Summary:     summary,
		JournalPath: sess.JournalPath,
		LogPath:     logPath,
		UILogPath:   uiLogPath,
	}, nil
}

func (a *App) superviseRun(runner *orchestrator.Runner) (*orchestrator.Summary, error) {
	for {
		summary, err := runner.Wait(waitTick)
		if err != nil {
			return nil, err
		}
		if summary != nil {
			return summary, nil
		}
	}
}

func (a *App) finishRun(ctx context.Context, sess *session.Session, summary *orchestrator.Summary, token *stop.Token, hooks Hooks) {
	if token.ShouldStop() {
		sess.Journal.FailRunning("stopped")
		sess.SaveJournal(a.Logger)
		for _, name := range summary.FailedTeardowns() {
			hooks.warn("Teardown failed (" + name + "); remote workloads may still be running")
		}
	}

	hostNames := make([]string, 0, len(sess.PerHostOutput))
	for host := range sess.PerHostOutput {
		hostNames = append(hostNames, host)
	}
	if sysinfo.Attach(sess.Journal, sess.OutputRoot, hostNames) {
		sess.SaveJournal(a.Logger)
	}

	a.recordHistory(ctx, sess, summary)

	if a.lastProvision != nil {
		a.lastProvision.SetKeepNodes(!summary.CleanupAllowed)
		if summary.CleanupAllowed {
			if err := a.lastProvision.DestroyAll(); err != nil {
				a.Logger.Warn("destroying provisioned nodes", slog.Any("error", err))
			}
		} else {
			hooks.log("Provisioned nodes retained for inspection")
		}
	}
}

func (a *App) recordHistory(ctx context.Context, sess *session.Session, summary *orchestrator.Summary) {
	catalogPath := history.DefaultPath(filepath.Dir(sess.OutputRoot))
	store, err := history.Open(catalogPath)
	if err != nil {
		a.Logger.Warn("opening run catalog", slog.Any("error", err))
		return
	}
	defer store.Close()

	rec := history.Record{
		RunID:      sess.RunID,
		State:      string(summary.ControllerState),
		Success:    summary.Success,
		NodeCount:  len(sess.PerHostOutput),
		Workloads:  sess.TestNames,
		OutputRoot: sess.OutputRoot,
		StartedAt:  runStartFromID(sess.RunID),
		FinishedAt: time.Now(),
	}
	if err := store.Record(ctx, rec); err != nil {
		a.Logger.Warn("recording run in catalog", slog.Any("error", err))
	}
}

func (a *App) countAccepted() {
	if a.Metrics != nil {
		a.Metrics.EventsIngested.Inc()
	}
}

func (a *App) countDropped() {
	if a.Metrics != nil {
		a.Metrics.EventsDeduplicated.Inc()
	}
}

func (a *App) countJournalSave() {
	if a.Metrics != nil {
		a.Metrics.JournalSaves.Inc()
	}
}

func targetReps(j *journal.Journal, cfg *config.Config) int {
	if j != nil && j.Metadata.Repetitions > 0 {
		return j.Metadata.Repetitions
	}
	return cfg.Repetitions
}

// runStartFromID recovers the start time from a generated run id; falls back
// to now for custom ids.
func runStartFromID(runID string) time.Time {
	ts, err := time.Parse(session.RunIDFormat, runID)
	if err != nil {
		return time.Now()
	}
	return ts
}
