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

// Package metrics exposes the controller's Prometheus instrumentation on a
// private registry. The controller is a CLI, not a daemon: the registry is
// gathered on demand (run summaries, tests) rather than scraped.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the controller instruments.
type Metrics struct {
	Registry *prometheus.Registry

	EventsIngested     prometheus.Counter
	EventsDeduplicated prometheus.Counter
	JournalSaves       prometheus.Counter
	PhaseDuration      *prometheus.HistogramVec
	RunsByState        *prometheus.CounterVec
}

// New creates the instrument set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loadbench_events_ingested_total",
			Help: "Progress events accepted by the pipeline.",
		}),
		EventsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loadbench_events_deduplicated_total",
			Help: "Progress events dropped as duplicates.",
		}),
		JournalSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loadbench_journal_saves_total",
			Help: "Journal persistence operations.",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loadbench_phase_duration_seconds",
			Help:    "Wall-clock duration of orchestrator phases.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"phase", "status"}),
		RunsByState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadbench_runs_total",
			Help: "Completed runs by terminal controller state.",
		}, []string{"state"}),
	}
	registry.MustRegister(
		m.EventsIngested,
		m.EventsDeduplicated,
		m.JournalSaves,
		m.PhaseDuration,
		m.RunsByState,
	)
	return m
}
