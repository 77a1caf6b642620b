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

package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "loadbench") {
		t.Errorf("output = %q", out.String())
	}
}

func TestValidateRunFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags runFlags
		ok    bool
	}{
		{"defaults", runFlags{executionMode: "remote"}, true},
		{"docker mode", runFlags{executionMode: "docker"}, true},
		{"bad mode", runFlags{executionMode: "metal"}, false},
		{"bad intensity", runFlags{executionMode: "remote", intensity: "extreme"}, false},
		{"good intensity", runFlags{executionMode: "remote", intensity: "high"}, true},
		{"negative reps", runFlags{executionMode: "remote", repetitions: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRunFlags(&tt.flags)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected usage error")
				}
				if !isUsageError(err) {
					t.Errorf("error should be a usage error: %v", err)
				}
			}
		})
	}
}

func TestLatestRunID(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"run-20260101-000000", "run-20260301-120000", "reports"} {
		if err := mkdir(dir, name); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := latestRunID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if latest != "run-20260301-120000" {
		t.Errorf("latest = %s", latest)
	}
}

func TestLatestRunIDEmpty(t *testing.T) {
	if _, err := latestRunID(t.TempDir()); err == nil {
		t.Error("expected error with no runs")
	}
}
