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

package events

// Sink receives accepted events. The journal adapter implements this.
type Sink interface {
	Emit(Event)
}

// Pipeline multiplexes events from all sources through one dedupe window and
// fans accepted events out: journal first, then forwards (stop coordinator),
// then the dashboard log line.
type Pipeline struct {
	dedupe     *Dedupe
	journal    Sink
	forwards   []func(Event)
	logLine    func(string)
	onAccepted func()
	onDropped  func()
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithJournal attaches the journal sink.
func WithJournal(sink Sink) Option {
	return func(p *Pipeline) { p.journal = sink }
}

// WithForward adds a fan-out target invoked after the journal update.
func WithForward(fn func(Event)) Option {
	return func(p *Pipeline) { p.forwards = append(p.forwards, fn) }
}

// WithLogLine attaches the dashboard/log hook receiving formatted lines.
func WithLogLine(fn func(string)) Option {
	return func(p *Pipeline) { p.logLine = fn }
}

// WithCounters attaches accepted/dropped observation hooks.
func WithCounters(accepted, dropped func()) Option {
	return func(p *Pipeline) {
		p.onAccepted = accepted
		p.onDropped = dropped
	}
}

// WithDedupeWindow overrides the dedupe window size.
func WithDedupeWindow(limit int) Option {
	return func(p *Pipeline) { p.dedupe = NewDedupe(limit) }
}

// NewPipeline builds a pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{dedupe: NewDedupe(0)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes one event. Returns false when the event was dropped as a
// duplicate.
func (p *Pipeline) Ingest(ev Event) bool {
	if !p.dedupe.Record(ev) {
		if p.onDropped != nil {
			p.onDropped()
		}
		return false
	}
	if p.onAccepted != nil {
		p.onAccepted()
	}
	if p.journal != nil {
		p.journal.Emit(ev)
	}
	for _, forward := range p.forwards {
		forward(ev)
	}
	if p.logLine != nil {
		p.logLine(ev.LogLine())
	}
	return true
}

// IngestPayload decodes a payload and ingests the resulting event. Payloads
// missing required fields are dropped.
func (p *Pipeline) IngestPayload(data map[string]any, runID string, defaultTotal int) bool {
	ev, ok := FromPayload(data, runID, defaultTotal)
	if !ok {
		return false
	}
	return p.Ingest(ev)
}

// MarkerHandler returns a line callback for the stdout tee that extracts
// marker payloads and ingests them.
func (p *Pipeline) MarkerHandler(token, runID string, defaultTotal int) func(string) {
	if token == "" {
		token = DefaultMarker
	}
	return func(line string) {
		if data, ok := ExtractPayload(line, token); ok {
			p.IngestPayload(data, runID, defaultTotal)
		}
	}
}
