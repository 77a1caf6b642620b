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
	"strings"

	"github.com/tombee/loadbench/internal/state"
)

// PhaseResult records one phase's transport outcome.
type PhaseResult struct {
	RC     int    `json:"rc"`
	Status string `json:"status"`
}

// Summary is the run outcome handed back to the facade.
type Summary struct {
	RunID         string                 `json:"run_id"`
	PerHostOutput map[string]string      `json:"per_host_output"`
	Phases        map[string]PhaseResult `json:"phases"`
	Success       bool                   `json:"success"`

	ControllerState state.State `json:"controller_state"`
	CleanupAllowed  bool        `json:"cleanup_allowed"`

	OutputRoot     string `json:"output_root"`
	ReportRoot     string `json:"report_root"`
	DataExportRoot string `json:"data_export_root"`

	StopProtocolAttempted bool `json:"stop_protocol_attempted"`
	StopSuccessful        bool `json:"stop_successful"`
}

// FailedPhases returns the names of phases that did not succeed, teardown
// included.
func (s *Summary) FailedPhases() []string {
	var out []string
	for name, res := range s.Phases {
		if !(res.RC == 0 && res.Status == "successful") {
			out = append(out, name)
		}
	}
	return out
}

// FailedTeardowns returns the failed teardown phases; used to warn that
// remote workloads may still be running.
func (s *Summary) FailedTeardowns() []string {
	var out []string
	for _, name := range s.FailedPhases() {
		if strings.HasPrefix(name, "teardown") {
			out = append(out, name)
		}
	}
	return out
}

// runFlags tracks stop/progress outcomes across the phase sequence.
type runFlags struct {
	allTestsSuccess       bool
	stopSuccessful        bool
	stopProtocolAttempted bool
}

func newRunFlags() *runFlags {
	return &runFlags{allTestsSuccess: true, stopSuccessful: true}
}
