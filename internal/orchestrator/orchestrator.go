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

// Package orchestrator sequences a run through global setup, the per-workload
// loop, and global teardown, honoring the cooperative stop semantics.
package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/loadbench/internal/config"
	"github.com/tombee/loadbench/internal/executor"
	"github.com/tombee/loadbench/internal/journal"
	"github.com/tombee/loadbench/internal/metrics"
	"github.com/tombee/loadbench/internal/plugin"
	"github.com/tombee/loadbench/internal/session"
	"github.com/tombee/loadbench/internal/state"
	"github.com/tombee/loadbench/internal/stop"
	"github.com/tombee/loadbench/internal/tracing"
)

// stopPollInterval is the cadence of the stop-confirmation poll loop.
const stopPollInterval = 500 * time.Millisecond

// interruptPollInterval is how often a cancellable script execution checks
// the stop token.
const interruptPollInterval = 100 * time.Millisecond

// Orchestrator drives the phase sequence for one run. It is invoked on the
// runner's worker goroutine and blocks inside executor calls; the stop token
// is the only cross-thread input.
type Orchestrator struct {
	Config   *config.Config
	Executor executor.RemoteExecutor
	Registry plugin.Registry
	Token    *stop.Token
	Logger   *slog.Logger
	Tracer   *tracing.Provider
	Metrics  *metrics.Metrics

	// UILog receives operator-facing progress lines; may be nil.
	UILog func(string)
}

// Run executes the configured phases and always returns a summary; per-phase
// failures are values, never panics.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, resume bool) *Summary {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	phases := make(map[string]PhaseResult)
	flags := newRunFlags()

	o.log("Starting run " + sess.RunID)

	proceed := true
	if o.Config.RemoteExecution.RunSetup {
		proceed = o.runGlobalSetup(ctx, sess, phases, flags)
	}

	if proceed {
		if !o.stopRequested() && sess.StateMachine.State() != state.RunningWorkloads {
			sess.Transition(state.RunningWorkloads, "")
		}
		o.runWorkloads(ctx, sess, phases, flags, resume)
	}

	if o.Config.RemoteExecution.RunTeardown {
		o.runGlobalTeardown(ctx, sess, phases, flags)
	}

	o.log("Run finished")
	return o.buildSummary(sess, phases, flags)
}

// runGlobalSetup returns false when the run must not proceed to workloads.
func (o *Orchestrator) runGlobalSetup(ctx context.Context, sess *session.Session, phases map[string]PhaseResult, flags *runFlags) bool {
	sess.Transition(state.RunningGlobalSetup, "")

	if o.stopRequested() {
		sess.Transition(state.StoppingInterruptSetup, "stop before setup")
		phases["setup_global"] = PhaseResult{RC: 0, Status: executor.StatusStopped}
		sess.TestNames = nil
		return false
	}

	res := o.runScript(ctx, sess, "setup_global", o.Config.RemoteExecution.SetupScript, nil, nil, true)
	if o.stopRequested() {
		sess.Transition(state.StoppingInterruptSetup, "stop during setup")
		res.Status = executor.StatusStopped
		phases["setup_global"] = PhaseResult{RC: res.RC, Status: res.Status}
		sess.TestNames = nil
		return false
	}
	phases["setup_global"] = PhaseResult{RC: res.RC, Status: res.Status}

	if !res.Success() {
		o.log("Global setup failed; aborting run")
		sess.Transition(state.Failed, "global setup failed")
		flags.allTestsSuccess = false
		return false
	}
	return true
}

func (o *Orchestrator) runWorkloads(ctx context.Context, sess *session.Session, phases map[string]PhaseResult, flags *runFlags, resume bool) {
	for _, testName := range sess.TestNames {
		if o.stopRequested() {
			o.stopDuringWorkloads(ctx, sess, flags)
			return
		}
		if !o.runSingleWorkload(ctx, sess, testName, phases, flags, resume) {
			return
		}
	}
}

// runSingleWorkload returns false when the loop must break (stop requested).
func (o *Orchestrator) runSingleWorkload(ctx context.Context, sess *session.Session, testName string, phases map[string]PhaseResult, flags *runFlags, resume bool) bool {
	workload, known := o.Config.Workloads[testName]
	if !known {
		o.log("Skipping unknown workload: " + testName)
		return true
	}

	pendingHosts := journal.PendingHostsFor(
		sess.Journal, sess.TargetRepetitions, testName, o.Config.Hosts, resume)
	if len(pendingHosts) == 0 {
		o.log("All repetitions already completed for " + testName + ", skipping")
		return true
	}

	descriptor, haveAssets := o.pluginAssets(workload.PluginID, testName)

	if o.stopRequested() {
		o.stopDuringWorkloads(ctx, sess, flags)
		return false
	}

	pendingReps := journal.PendingRepetitions(
		sess.Journal, sess.TargetRepetitions, pendingHosts, testName, resume)

	setupOK := true
	if haveAssets && descriptor.SetupScript != "" {
		res := o.runScript(ctx, sess, "setup_"+testName, descriptor.SetupScript,
			mergeVars(descriptor.SetupExtravars, nil), hostNames(pendingHosts), true)
		phases["setup_"+testName] = PhaseResult{RC: res.RC, Status: res.Status}
		if !res.Success() {
			o.log("Setup failed for " + testName + "; skipping execution")
			flags.allTestsSuccess = false
			setupOK = false
		}
	}

	if setupOK {
		if o.stopRequested() {
			o.stopDuringWorkloads(ctx, sess, flags)
			o.runWorkloadTeardown(ctx, sess, testName, descriptor, haveAssets, phases)
			return false
		}
		o.executeWorkload(ctx, sess, testName, pendingHosts, pendingReps, phases, flags, resume)
	}

	// Teardown is non-cancellable and runs even under stop.
	o.runWorkloadTeardown(ctx, sess, testName, descriptor, haveAssets, phases)

	if o.stopRequested() {
		if !flags.stopProtocolAttempted {
			o.stopDuringWorkloads(ctx, sess, flags)
		}
		return false
	}
	return true
}

func (o *Orchestrator) executeWorkload(ctx context.Context, sess *session.Session, testName string, pendingHosts []config.HostSpec, pendingReps map[string][]int, phases map[string]PhaseResult, flags *runFlags, resume bool) {
	// Collect runs in all paths out of the execution, stop included.
	defer o.collectWorkload(ctx, sess, testName, pendingHosts, pendingReps, phases)

	o.markPending(sess, testName, pendingReps, journal.StatusRunning, "Executing workload", "")
	sess.SaveJournal(o.Logger)

	extravars := map[string]any{
		"tests":               []string{testName},
		"pending_repetitions": pendingReps,
	}
	res := o.runScript(ctx, sess, "run_"+testName, o.Config.RemoteExecution.RunScript,
		extravars, hostNames(pendingHosts), true)
	phases["run_"+testName] = PhaseResult{RC: res.RC, Status: res.Status}

	if o.stopRequested() {
		o.stopDuringWorkloads(ctx, sess, flags)
		return
	}

	if res.Success() {
		o.markPending(sess, testName, pendingReps, journal.StatusCompleted, "Completed", "")
	} else {
		o.markPending(sess, testName, pendingReps, journal.StatusFailed, "Execution failed",
			"run script failed")
		flags.allTestsSuccess = false
	}
	sess.SaveJournal(o.Logger)
}

func (o *Orchestrator) collectWorkload(ctx context.Context, sess *session.Session, testName string, pendingHosts []config.HostSpec, pendingReps map[string][]int, phases map[string]PhaseResult) {
	if !o.Config.RemoteExecution.RunCollect {
		return
	}

	for host, reps := range pendingReps {
		for _, rep := range reps {
			sess.Journal.SetAction(host, testName, rep, "Collecting results")
		}
	}

	if o.Config.RemoteExecution.CollectScript != "" {
		res := o.runScript(ctx, sess, "collect_"+testName, o.Config.RemoteExecution.CollectScript,
			nil, hostNames(pendingHosts), false)
		phases["collect_"+testName] = PhaseResult{RC: res.RC, Status: res.Status}
	}

	// Results artifacts carry the authoritative per-repetition timing.
	journal.BackfillTimings(sess.Journal, pendingHosts, testName, sess.PerHostOutput)
	sess.SaveJournal(o.Logger)
}

func (o *Orchestrator) runWorkloadTeardown(ctx context.Context, sess *session.Session, testName string, descriptor plugin.Descriptor, haveAssets bool, phases map[string]PhaseResult) {
	if !haveAssets || descriptor.TeardownScript == "" {
		return
	}
	res := o.runScript(ctx, sess, "teardown_"+testName, descriptor.TeardownScript,
		mergeVars(descriptor.TeardownExtravars, nil), nil, false)
	phases["teardown_"+testName] = PhaseResult{RC: res.RC, Status: res.Status}
	if !res.Success() {
		o.log("Teardown failed for " + testName)
	}
}

func (o *Orchestrator) runGlobalTeardown(ctx context.Context, sess *session.Session, phases map[string]PhaseResult, flags *runFlags) {
	if inStopPath(sess.StateMachine.State()) {
		sess.Transition(state.StoppingTeardown, "teardown after stop")
	} else {
		sess.Transition(state.RunningGlobalTeardown, "")
	}

	res := o.runScript(ctx, sess, "teardown_global", o.Config.RemoteExecution.TeardownScript,
		nil, nil, false)
	phases["teardown_global"] = PhaseResult{RC: res.RC, Status: res.Status}
	if !res.Success() {
		// Never fatal to the summary: the run's outcome is already decided.
		o.log("Global teardown failed; remote hosts may need manual cleanup")
	}
}

// stopDuringWorkloads executes the distributed stop protocol: arm the
// lifecycle, request the coordinator, push the stop sentinel to every host,
// then poll until all runners confirm or the protocol times out.
func (o *Orchestrator) stopDuringWorkloads(ctx context.Context, sess *session.Session, flags *runFlags) {
	if flags.stopProtocolAttempted {
		return
	}
	flags.stopProtocolAttempted = true
	flags.allTestsSuccess = false

	sess.Transition(state.StoppingWaitRunners, "stop during workloads")
	sess.Coordinator.InitiateStop()

	o.log("Sending stop signal to remote runners...")
	o.pushStopRequest(ctx, sess)

	o.log("Waiting for runners to confirm stop...")
	flags.stopSuccessful = o.awaitStopConfirmations(sess)

	if flags.stopSuccessful {
		o.log("All runners confirmed stop")
		sess.Transition(state.StoppingTeardown, "runners stopped")
	} else {
		o.log("Stop protocol timed out or failed")
		sess.Transition(state.StopFailed, "stop confirmations timed out")
	}

	sess.Journal.FailRunning("stopped")
	sess.SaveJournal(o.Logger)
}

// pushStopRequest delivers the stop sentinel through the transport with a
// short generated script, so the same fan-out path that runs workloads also
// stops them.
func (o *Orchestrator) pushStopRequest(ctx context.Context, sess *session.Session) {
	script, err := os.CreateTemp("", "lb-stop-*.sh")
	if err != nil {
		o.Logger.Error("creating stop script", slog.Any("error", err))
		return
	}
	defer os.Remove(script.Name())

	content := "#!/bin/sh\ntouch \"${LB_WORKDIR:-/var/tmp/loadbench}/STOP\"\n"
	if _, err := script.WriteString(content); err != nil {
		o.Logger.Error("writing stop script", slog.Any("error", err))
		script.Close()
		return
	}
	script.Close()

	res := o.runScript(ctx, sess, "stop_request", script.Name(), nil, nil, false)
	if !res.Success() {
		o.log("Failed to send stop signal (transport failure)")
	}
}

func (o *Orchestrator) awaitStopConfirmations(sess *session.Session) bool {
	for {
		sess.Coordinator.CheckTimeout()
		switch sess.Coordinator.State() {
		case stop.StateTeardownReady:
			return true
		case stop.StateStopFailed:
			return false
		}
		time.Sleep(stopPollInterval)
	}
}

// runScript executes one script through the transport. Cancellable scripts
// get a watchdog that interrupts the executor when the stop token fires;
// non-cancellable scripts run to completion regardless.
func (o *Orchestrator) runScript(ctx context.Context, sess *session.Session, phase, scriptPath string, extra map[string]any, limitHosts []string, cancellable bool) executor.Result {
	if scriptPath == "" {
		return executor.Result{RC: 0, Status: executor.StatusSuccessful}
	}

	ctx, endSpan := o.Tracer.StartPhase(ctx, phase, sess.RunID)
	defer endSpan()

	start := time.Now()
	o.log("Phase " + phase + ": " + filepath.Base(scriptPath))

	req := executor.Request{
		ScriptPath:  scriptPath,
		Inventory:   sess.Inventory,
		Extravars:   mergeVars(sess.Extravars, extra),
		LimitHosts:  limitHosts,
		Cancellable: cancellable,
	}

	var watchdogDone chan struct{}
	if cancellable {
		watchdogDone = make(chan struct{})
		go o.interruptWatchdog(watchdogDone)
		defer close(watchdogDone)
	}

	res, err := o.Executor.RunScript(ctx, req)
	if err != nil {
		o.Logger.Error("script execution error",
			slog.String("phase", phase),
			slog.Any("error", err))
		res = executor.Result{RC: 1, Status: executor.StatusFailed}
	}

	if o.Metrics != nil {
		o.Metrics.PhaseDuration.WithLabelValues(phase, res.Status).
			Observe(time.Since(start).Seconds())
	}
	o.Logger.Info("phase finished",
		slog.String("phase", phase),
		slog.Int("rc", res.RC),
		slog.String("status", res.Status))
	return res
}

func (o *Orchestrator) interruptWatchdog(done chan struct{}) {
	ticker := time.NewTicker(interruptPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if o.stopRequested() {
				o.Executor.Interrupt()
				return
			}
		}
	}
}

func (o *Orchestrator) markPending(sess *session.Session, testName string, pendingReps map[string][]int, status, action, errMsg string) {
	for host, reps := range pendingReps {
		for _, rep := range reps {
			sess.Journal.UpdateTask(host, testName, rep, status, journal.UpdateOpts{
				Action: action,
				Error:  errMsg,
			})
		}
	}
}

func (o *Orchestrator) buildSummary(sess *session.Session, phases map[string]PhaseResult, flags *runFlags) *Summary {
	final := o.finalState(sess, flags, phases)
	sess.Transition(final, "run complete")
	sess.SaveJournal(o.Logger)

	if o.Metrics != nil {
		o.Metrics.RunsByState.WithLabelValues(string(sess.StateMachine.State())).Inc()
	}

	success := flags.allTestsSuccess && flags.stopSuccessful && !anyCorePhaseFailed(phases)
	return &Summary{
		RunID:                 sess.RunID,
		PerHostOutput:         sess.PerHostOutput,
		Phases:                phases,
		Success:               success,
		ControllerState:       sess.StateMachine.State(),
		CleanupAllowed:        sess.AllowsCleanup(),
		OutputRoot:            sess.OutputRoot,
		ReportRoot:            sess.ReportRoot,
		DataExportRoot:        sess.DataExportRoot,
		StopProtocolAttempted: flags.stopProtocolAttempted,
		StopSuccessful:        flags.stopSuccessful,
	}
}

func (o *Orchestrator) finalState(sess *session.Session, flags *runFlags, phases map[string]PhaseResult) state.State {
	current := sess.StateMachine.State()
	if terminal(current) {
		return current
	}
	if o.stopRequested() {
		if !flags.stopSuccessful {
			return state.StopFailed
		}
		return state.Aborted
	}
	if !flags.allTestsSuccess || anyCorePhaseFailed(phases) {
		return state.Failed
	}
	return state.Finished
}

func (o *Orchestrator) pluginAssets(pluginID, testName string) (plugin.Descriptor, bool) {
	if o.Registry == nil {
		return plugin.Descriptor{}, false
	}
	descriptor, err := o.Registry.Get(pluginID)
	if err != nil {
		o.log("No plugin assets found for " + testName + " (" + pluginID + "); skipping setup/teardown")
		return plugin.Descriptor{}, false
	}
	return descriptor, true
}

func (o *Orchestrator) stopRequested() bool {
	return o.Token != nil && o.Token.ShouldStop()
}

func (o *Orchestrator) log(message string) {
	if o.UILog != nil {
		o.UILog(message)
	}
	o.Logger.Info(message)
}

// anyCorePhaseFailed ignores teardown phases: their failures are warnings,
// never a change to the already-decided outcome.
func anyCorePhaseFailed(phases map[string]PhaseResult) bool {
	for name, res := range phases {
		if len(name) >= 8 && name[:8] == "teardown" {
			continue
		}
		if name == "stop_request" {
			continue
		}
		if !(res.RC == 0 && res.Status == executor.StatusSuccessful) {
			return true
		}
	}
	return false
}

func inStopPath(s state.State) bool {
	switch s {
	case state.StopArmed, state.StoppingInterruptSetup, state.StoppingWaitRunners,
		state.StoppingTeardown, state.StoppingInterruptTeardown:
		return true
	}
	return false
}

func terminal(s state.State) bool {
	switch s {
	case state.Finished, state.Failed, state.Aborted, state.StopFailed:
		return true
	}
	return false
}

func hostNames(hosts []config.HostSpec) []string {
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.Name
	}
	return names
}

func mergeVars(base, extra map[string]any) map[string]any {
	if base == nil && extra == nil {
		return nil
	}
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
