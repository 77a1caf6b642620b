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

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/loadbench/internal/session"
	"github.com/tombee/loadbench/internal/state"
)

// Runner drives the orchestrator on a worker goroutine so the caller can
// supervise signals and pump UI updates. Unexpected panics are trapped here
// and re-surfaced from Wait.
type Runner struct {
	Orchestrator *Orchestrator
	Session      *session.Session
	Resume       bool

	// OnStateChange receives lifecycle transitions. The dispatch never
	// blocks the orchestrator thread.
	OnStateChange func(state.State, string)

	mu      sync.Mutex
	started bool
	summary *Summary
	err     error
	done    chan struct{}
}

// Start launches the worker. Calling Start twice is an error in the caller;
// the second call is ignored.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.done = make(chan struct{})

	if r.OnStateChange != nil {
		notify := r.OnStateChange
		r.Session.OnTransition = func(s state.State, reason string) {
			go notify(s, reason)
		}
	}

	go r.work(ctx)
}

func (r *Runner) work(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			r.err = fmt.Errorf("orchestrator panic: %v", rec)
			r.mu.Unlock()
		}
	}()

	summary := r.Orchestrator.Run(ctx, r.Session, r.Resume)
	r.mu.Lock()
	r.summary = summary
	r.mu.Unlock()
}

// Wait blocks up to timeout for the summary. Returns (nil, nil) on timeout.
// A captured worker error transitions the lifecycle to FAILED — or ABORTED
// when a stop was requested — and is returned to the caller.
func (r *Runner) Wait(timeout time.Duration) (*Summary, error) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil, fmt.Errorf("runner not started")
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		target := state.Failed
		reason := "unexpected orchestrator error"
		if r.Orchestrator.stopRequested() {
			target = state.Aborted
			reason = "stop requested; orchestrator error"
		}
		r.Session.StateMachine.MustTransition(target, reason)
		return nil, r.err
	}
	return r.summary, nil
}

// ArmStop requests the cooperative stop.
func (r *Runner) ArmStop(reason string) {
	logger := r.Orchestrator.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("stop armed", slog.String("reason", reason))
	if r.Orchestrator.Token != nil {
		r.Orchestrator.Token.RequestStop()
	}
}
