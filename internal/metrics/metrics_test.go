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

package metrics

import "testing"

func TestNewRegistersInstruments(t *testing.T) {
	m := New()
	m.EventsIngested.Inc()
	m.EventsDeduplicated.Inc()
	m.JournalSaves.Inc()
	m.PhaseDuration.WithLabelValues("run_cpu", "successful").Observe(1.5)
	m.RunsByState.WithLabelValues("FINISHED").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{
		"loadbench_events_ingested_total",
		"loadbench_events_deduplicated_total",
		"loadbench_journal_saves_total",
		"loadbench_phase_duration_seconds",
		"loadbench_runs_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide: each run builds its own registry.
	a := New()
	b := New()
	a.EventsIngested.Inc()
	families, err := b.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, family := range families {
		if family.GetName() != "loadbench_events_ingested_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if metric.GetCounter().GetValue() != 0 {
				t.Error("registries are not independent")
			}
		}
	}
}
