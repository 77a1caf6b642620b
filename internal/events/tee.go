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

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Tee is the composite stdout sink for the remote executor: raw text goes to
// the run log, complete lines are scanned for progress markers, and an
// optional downstream formatter receives the text unchanged. Partial lines
// are buffered until a newline arrives.
type Tee struct {
	mu         sync.Mutex
	raw        io.Writer
	onLine     func(string)
	downstream func(string)
	buf        bytes.Buffer
}

// NewTee builds a tee. Any of the sinks may be nil.
func NewTee(raw io.Writer, onLine func(string), downstream func(string)) *Tee {
	return &Tee{raw: raw, onLine: onLine, downstream: downstream}
}

// Write implements io.Writer.
func (t *Tee) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.raw != nil {
		// Raw sink failures must not break the executor's stdout stream.
		_, _ = t.raw.Write(p)
	}
	if t.downstream != nil {
		t.downstream(string(p))
	}

	t.buf.Write(p)
	for {
		data := t.buf.Bytes()
		nl := bytes.IndexByte(data, '\n')
		if nl == -1 {
			break
		}
		line := strings.TrimRight(string(data[:nl]), "\r")
		t.buf.Next(nl + 1)
		if t.onLine != nil && line != "" {
			t.onLine(line)
		}
	}
	return len(p), nil
}

// Flush delivers any buffered partial line as-is.
func (t *Tee) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf.Len() == 0 {
		return
	}
	line := strings.TrimRight(t.buf.String(), "\r\n")
	t.buf.Reset()
	if t.onLine != nil && line != "" {
		t.onLine(line)
	}
}
