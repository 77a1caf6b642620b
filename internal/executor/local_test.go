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

package executor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tombee/loadbench/internal/config"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func inventory(names ...string) Inventory {
	hosts := make([]config.HostSpec, len(names))
	for i, name := range names {
		hosts[i] = config.HostSpec{Name: name, Address: "127.0.0.1"}
	}
	return Inventory{Hosts: hosts}
}

func TestLocalRunScript(t *testing.T) {
	script := writeScript(t, `echo "LB_EVENT {\"host\":\"$LB_HOST\",\"status\":\"running\"}"`)

	var out bytes.Buffer
	local := NewLocal(&out)
	res, err := local.RunScript(context.Background(), Request{
		ScriptPath:  script,
		Inventory:   inventory("h1", "h2"),
		Cancellable: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success() {
		t.Fatalf("result = %+v", res)
	}
	for _, host := range []string{"h1", "h2"} {
		if !strings.Contains(out.String(), `"host":"`+host+`"`) {
			t.Errorf("output missing host %s: %q", host, out.String())
		}
	}
}

func TestLocalRunScriptFailure(t *testing.T) {
	script := writeScript(t, "exit 3")
	local := NewLocal(nil)
	res, err := local.RunScript(context.Background(), Request{
		ScriptPath: script,
		Inventory:  inventory("h1"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success() || res.RC != 3 || res.Status != StatusFailed {
		t.Errorf("result = %+v", res)
	}
}

func TestLocalExtravarsInEnvironment(t *testing.T) {
	script := writeScript(t, `echo "tests=$LB_VAR_TESTS total=$LB_VAR_REPETITIONS_TOTAL"`)
	var out bytes.Buffer
	local := NewLocal(&out)
	_, err := local.RunScript(context.Background(), Request{
		ScriptPath: script,
		Inventory:  inventory("h1"),
		Extravars: map[string]any{
			"tests":             []string{"cpu"},
			"repetitions_total": 3,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `tests=["cpu"]`) {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "total=3") {
		t.Errorf("output = %q", out.String())
	}
}

func TestLocalLimitHosts(t *testing.T) {
	script := writeScript(t, `echo "host=$LB_HOST"`)
	var out bytes.Buffer
	local := NewLocal(&out)
	_, err := local.RunScript(context.Background(), Request{
		ScriptPath: script,
		Inventory:  inventory("h1", "h2", "h3"),
		LimitHosts: []string{"h2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "host=h1") || strings.Contains(out.String(), "host=h3") {
		t.Errorf("limit not applied: %q", out.String())
	}
	if !strings.Contains(out.String(), "host=h2") {
		t.Errorf("limited host missing: %q", out.String())
	}
}
