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

// Package connectivity runs the fast pre-flight SSH probe so unreachable
// hosts fail the run before the transport's own, much slower, timeouts.
package connectivity

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/loadbench/internal/config"
)

// DefaultTimeout bounds each host probe.
const DefaultTimeout = 10 * time.Second

// HostResult is the probe outcome for one host.
type HostResult struct {
	Name      string
	Address   string
	Reachable bool
	Latency   time.Duration
	Error     string
}

// Report aggregates probe results.
type Report struct {
	Results []HostResult
}

// AllReachable reports whether every host passed.
func (r Report) AllReachable() bool {
	for _, res := range r.Results {
		if !res.Reachable {
			return false
		}
	}
	return true
}

// Unreachable returns the names of failed hosts.
func (r Report) Unreachable() []string {
	var out []string
	for _, res := range r.Results {
		if !res.Reachable {
			out = append(out, res.Name)
		}
	}
	return out
}

// Checker probes hosts with a batch-mode ssh echo.
type Checker struct {
	Timeout time.Duration

	// probe overrides the ssh invocation in tests.
	probe func(ctx context.Context, host config.HostSpec) error
}

// NewChecker creates a checker; timeout <= 0 uses the default.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{Timeout: timeout}
}

// Check probes all hosts concurrently and returns a per-host report. The
// report is complete even when some probes fail; the caller decides whether
// to abort.
func (c *Checker) Check(ctx context.Context, hosts []config.HostSpec) Report {
	results := make([]HostResult, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	for i, host := range hosts {
		g.Go(func() error {
			results[i] = c.checkHost(gctx, host)
			return nil
		})
	}
	_ = g.Wait()
	return Report{Results: results}
}

func (c *Checker) checkHost(ctx context.Context, host config.HostSpec) HostResult {
	result := HostResult{Name: host.Name, Address: host.Address}

	probeCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	probe := c.probe
	if probe == nil {
		probe = sshProbe
	}
	if err := probe(probeCtx, host); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Reachable = true
	result.Latency = time.Since(start)
	return result
}

// sshProbe shells out to the ssh binary in batch mode, matching what the
// remote transport will do, so a passing probe means the transport's auth
// path works too.
func sshProbe(ctx context.Context, host config.HostSpec) error {
	target := host.Address
	if host.User != "" {
		target = host.User + "@" + host.Address
	}
	args := []string{
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ConnectTimeout=5",
	}
	if host.Port != 0 && host.Port != 22 {
		args = append(args, "-p", fmt.Sprintf("%d", host.Port))
	}
	args = append(args, target, "echo", "ok")

	cmd := exec.CommandContext(ctx, "ssh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ssh probe failed: %v (%s)", err, string(out))
	}
	return nil
}
