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

package connectivity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tombee/loadbench/internal/config"
)

func TestCheckReportsPerHost(t *testing.T) {
	checker := NewChecker(time.Second)
	checker.probe = func(ctx context.Context, host config.HostSpec) error {
		if host.Name == "down" {
			return fmt.Errorf("connection refused")
		}
		return nil
	}

	report := checker.Check(context.Background(), []config.HostSpec{
		{Name: "up", Address: "10.0.0.1"},
		{Name: "down", Address: "10.0.0.2"},
	})

	if report.AllReachable() {
		t.Error("report should not be all-reachable")
	}
	unreachable := report.Unreachable()
	if len(unreachable) != 1 || unreachable[0] != "down" {
		t.Errorf("unreachable = %v", unreachable)
	}
	for _, res := range report.Results {
		if res.Name == "up" && !res.Reachable {
			t.Error("up host marked unreachable")
		}
	}
}

func TestCheckAllReachable(t *testing.T) {
	checker := NewChecker(time.Second)
	checker.probe = func(ctx context.Context, host config.HostSpec) error { return nil }

	report := checker.Check(context.Background(), []config.HostSpec{
		{Name: "h1", Address: "10.0.0.1"},
		{Name: "h2", Address: "10.0.0.2"},
	})
	if !report.AllReachable() {
		t.Errorf("report = %+v", report)
	}
}
