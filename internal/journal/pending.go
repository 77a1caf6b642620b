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

import "github.com/tombee/loadbench/internal/config"

// PendingHostsFor returns the hosts that still have at least one repetition
// to run for a workload, preserving inventory order.
func PendingHostsFor(j *Journal, reps int, workload string, hosts []config.HostSpec, allowSkipped bool) []config.HostSpec {
	var pending []config.HostSpec
	for _, host := range hosts {
		for rep := 1; rep <= reps; rep++ {
			if j.ShouldRun(host.Name, workload, rep, allowSkipped) {
				pending = append(pending, host)
				break
			}
		}
	}
	return pending
}

// PendingRepetitions returns the pending repetitions per host. A host with
// nothing pending still maps to [1] — the remote executor contract requires
// a non-empty repetition list for every host it is asked to run.
func PendingRepetitions(j *Journal, reps int, hosts []config.HostSpec, workload string, allowSkipped bool) map[string][]int {
	pending := make(map[string][]int, len(hosts))
	for _, host := range hosts {
		var hostReps []int
		for rep := 1; rep <= reps; rep++ {
			if j.ShouldRun(host.Name, workload, rep, allowSkipped) {
				hostReps = append(hostReps, rep)
			}
		}
		if len(hostReps) == 0 {
			hostReps = []int{1}
		}
		pending[host.Name] = hostReps
	}
	return pending
}

// PendingExists reports whether any repetition remains across the given
// workloads and hosts. Used to avoid launching an empty run on resume.
func PendingExists(j *Journal, workloads []string, hosts []config.HostSpec, reps int, allowSkipped bool) bool {
	for _, host := range hosts {
		for _, workload := range workloads {
			for rep := 1; rep <= reps; rep++ {
				if j.ShouldRun(host.Name, workload, rep, allowSkipped) {
					return true
				}
			}
		}
	}
	return false
}
