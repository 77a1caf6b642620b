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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
workloads:
  cpu:
    plugin: cpu_stress
    enabled: true
    intensity: high
  io:
    plugin: disk_io
    enabled: false
hosts:
  - name: h1
    address: 10.0.0.1
    port: 22
    user: bench
  - name: h2
    address: 10.0.0.2
repetitions: 3
output_root: /tmp/lb-out
timeouts:
  stop: 45s
  connectivity: 5s
remote_execution:
  run_setup: true
  run_teardown: true
  run_collect: true
  run_script: scripts/run.sh
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Repetitions != 3 {
		t.Errorf("repetitions = %d, want 3", cfg.Repetitions)
	}
	if cfg.Timeouts.Stop.Std() != 45*time.Second {
		t.Errorf("stop timeout = %s, want 45s", cfg.Timeouts.Stop)
	}
	if got := cfg.Workloads["io"].Name; got != "io" {
		t.Errorf("workload name backfill = %q", got)
	}
	if got := cfg.Workloads["io"].Intensity; got != IntensityMedium {
		t.Errorf("default intensity = %q, want medium", got)
	}
}

func TestLoadRejectsDuplicateHosts(t *testing.T) {
	dup := `
workloads:
  cpu: {plugin: cpu_stress, enabled: true, intensity: low}
hosts:
  - {name: h1, address: 10.0.0.1}
  - {name: h1, address: 10.0.0.2}
repetitions: 1
output_root: /tmp/x
`
	if _, err := Load(writeConfig(t, dup)); err == nil {
		t.Fatal("expected duplicate host error")
	}
}

func TestLoadRejectsZeroRepetitions(t *testing.T) {
	bad := `
workloads:
  cpu: {plugin: cpu_stress, enabled: true, intensity: low}
repetitions: 0
output_root: /tmp/x
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("expected validation error for repetitions=0")
	}
}

func TestHashStability(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	h1, err := cfg.Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := cfg.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("hash is not stable across calls")
	}

	cfg.Repetitions = 4
	h3, _ := cfg.Hash()
	if h3 == h1 {
		t.Error("hash did not change with config")
	}
}

func TestDumpRoundTrip(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	dump, err := cfg.Dump()
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromDump(dump)
	if err != nil {
		t.Fatal(err)
	}
	origHash, _ := cfg.Hash()
	backHash, _ := back.Hash()
	if origHash != backHash {
		t.Error("Dump/FromDump round trip changed the config hash")
	}
	if back.Timeouts.Stop.Std() != 45*time.Second {
		t.Errorf("round-tripped stop timeout = %s", back.Timeouts.Stop)
	}
}

func TestEnabledWorkloads(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	t.Run("requested order preserved", func(t *testing.T) {
		got := cfg.EnabledWorkloads([]string{"io", "cpu"})
		// io is disabled, only cpu survives
		if len(got) != 1 || got[0] != "cpu" {
			t.Errorf("got %v, want [cpu]", got)
		}
	})
	t.Run("unknown names dropped", func(t *testing.T) {
		got := cfg.EnabledWorkloads([]string{"nope"})
		if len(got) != 0 {
			t.Errorf("got %v, want empty", got)
		}
	})
}

func TestResolvePrecedence(t *testing.T) {
	explicit := writeConfig(t, sampleConfig)
	t.Setenv("LB_CONFIG_PATH", "/nonexistent/env.yaml")

	path, err := Resolve(explicit)
	if err != nil {
		t.Fatal(err)
	}
	if path != explicit {
		t.Errorf("explicit path should win, got %s", path)
	}

	path, err = Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if path != "/nonexistent/env.yaml" {
		t.Errorf("env path should win over XDG, got %s", path)
	}
}
