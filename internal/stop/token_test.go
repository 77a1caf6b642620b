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

package stop

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenRequestStop(t *testing.T) {
	var calls atomic.Int32
	token := NewToken(WithOnStop(func() { calls.Add(1) }))

	if token.ShouldStop() {
		t.Fatal("fresh token should not stop")
	}
	token.RequestStop()
	if !token.ShouldStop() {
		t.Fatal("stop flag not observed")
	}

	// One-shot latch.
	token.RequestStop()
	token.RequestStop()
	if calls.Load() != 1 {
		t.Errorf("callback fired %d times, want 1", calls.Load())
	}
}

func TestTokenCallbackPanicSwallowed(t *testing.T) {
	token := NewToken(WithOnStop(func() { panic("callback error") }))
	token.RequestStop()
	if !token.ShouldStop() {
		t.Error("stop flag must be set despite panicking callback")
	}
}

func TestTokenStopFile(t *testing.T) {
	stopFile := filepath.Join(t.TempDir(), "STOP")
	var calls atomic.Int32
	token := NewToken(WithStopFile(stopFile), WithOnStop(func() { calls.Add(1) }))

	if token.ShouldStop() {
		t.Fatal("absent stop file should not stop")
	}
	if err := os.WriteFile(stopFile, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if !token.ShouldStop() {
		t.Fatal("stop file not detected")
	}
	token.ShouldStop()
	if calls.Load() != 1 {
		t.Errorf("stop-file callback fired %d times, want 1", calls.Load())
	}
}

func TestTokenWatch(t *testing.T) {
	stopFile := filepath.Join(t.TempDir(), "STOP")
	token := NewToken(WithStopFile(stopFile))
	if err := token.Watch(); err != nil {
		t.Fatal(err)
	}
	defer token.Close()

	if err := os.WriteFile(stopFile, nil, 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !token.ShouldStop() {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not observe stop file")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
