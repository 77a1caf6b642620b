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

// Package stop implements cooperative cancellation: the stop token, the
// distributed stop coordinator, and the double-interrupt handler.
package stop

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Token is the cooperative cancellation primitive handed down to the
// orchestrator. ShouldStop is a lock-free read on the fast path.
type Token struct {
	flag     atomic.Bool
	stopFile string
	onStop   func()
	once     sync.Once

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// TokenOption configures a Token.
type TokenOption func(*Token)

// WithStopFile makes the token honor an on-disk sentinel: the file's
// presence is equivalent to RequestStop.
func WithStopFile(path string) TokenOption {
	return func(t *Token) { t.stopFile = path }
}

// WithOnStop registers a callback fired exactly once, on whichever of
// RequestStop or the first stop-file hit comes first.
func WithOnStop(fn func()) TokenOption {
	return func(t *Token) { t.onStop = fn }
}

// NewToken creates a token.
func NewToken(opts ...TokenOption) *Token {
	t := &Token{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StopFile returns the sentinel path, if configured.
func (t *Token) StopFile() string { return t.stopFile }

// RequestStop sets the flag and fires the callback once.
func (t *Token) RequestStop() {
	t.flag.Store(true)
	t.fireOnce()
}

// ShouldStop reports whether a stop was requested, either through
// RequestStop or by the stop file appearing on disk. The first filesystem
// hit also triggers the one-shot callback.
func (t *Token) ShouldStop() bool {
	if t.flag.Load() {
		return true
	}
	if t.stopFile == "" {
		return false
	}
	if _, err := os.Stat(t.stopFile); err != nil {
		return false
	}
	t.RequestStop()
	return true
}

// Watch installs an fsnotify watcher on the stop file's directory so the
// sentinel is noticed without waiting for the next ShouldStop poll. Optional;
// ShouldStop alone satisfies the token contract.
func (t *Token) Watch() error {
	if t.stopFile == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(t.stopFile)); err != nil {
		watcher.Close()
		return err
	}
	t.watcher = watcher

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == t.stopFile && event.Op.Has(fsnotify.Create) {
					t.RequestStop()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close releases the watcher, if installed.
func (t *Token) Close() {
	if t.watcher != nil {
		t.watcher.Close()
		t.wg.Wait()
		t.watcher = nil
	}
}

func (t *Token) fireOnce() {
	t.once.Do(func() {
		if t.onStop != nil {
			// A panicking callback must not take the run down with it.
			defer func() { _ = recover() }()
			t.onStop()
		}
	})
}
