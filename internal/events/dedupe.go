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

import "sync"

// DefaultDedupeWindow is the number of recent event keys remembered. The
// same event routinely arrives via both the file tail and the stdout scrape.
const DefaultDedupeWindow = 200

type dedupeKey struct {
	host       string
	workload   string
	repetition int
	status     string
	eventType  string
	message    string
}

// Dedupe tracks a bounded FIFO of recent event keys.
type Dedupe struct {
	mu    sync.Mutex
	limit int
	order []dedupeKey
	seen  map[dedupeKey]struct{}
}

// NewDedupe creates a window of the given size; limit <= 0 uses the default.
func NewDedupe(limit int) *Dedupe {
	if limit <= 0 {
		limit = DefaultDedupeWindow
	}
	return &Dedupe{
		limit: limit,
		order: make([]dedupeKey, 0, limit),
		seen:  make(map[dedupeKey]struct{}, limit),
	}
}

// Record returns true if the event is new within the window, false for
// duplicates. Duplicates do not refresh the window position.
func (d *Dedupe) Record(ev Event) bool {
	key := dedupeKey{
		host:       ev.Host,
		workload:   ev.Workload,
		repetition: ev.Repetition,
		status:     ev.Status,
		eventType:  ev.Type,
		message:    ev.Message,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[key]; dup {
		return false
	}
	d.order = append(d.order, key)
	d.seen[key] = struct{}{}
	if len(d.order) > d.limit {
		old := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, old)
	}
	return true
}
