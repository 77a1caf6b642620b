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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("run started", RunIDKey, "run-20260101-000000")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record[RunIDKey] != "run-20260101-000000" {
		t.Errorf("expected run_id field, got %v", record)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatText, Output: &buf})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("info log leaked through warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn log missing")
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("debug flag wins", func(t *testing.T) {
		t.Setenv("LB_DEBUG", "1")
		t.Setenv("LB_LOG_LEVEL", "error")
		cfg := FromEnv()
		if cfg.Level != "debug" {
			t.Errorf("expected debug, got %s", cfg.Level)
		}
		if !cfg.AddSource {
			t.Error("debug should enable source info")
		}
	})
	t.Run("level from env", func(t *testing.T) {
		t.Setenv("LB_DEBUG", "")
		t.Setenv("LB_LOG_LEVEL", "WARN")
		cfg := FromEnv()
		if cfg.Level != "warn" {
			t.Errorf("expected warn, got %s", cfg.Level)
		}
	})
	t.Run("format from env", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "json")
		cfg := FromEnv()
		if cfg.Format != FormatJSON {
			t.Errorf("expected json format, got %s", cfg.Format)
		}
	})
}

func TestParseLevelFallback(t *testing.T) {
	if parseLevel("nonsense") != parseLevel("info") {
		t.Error("unknown level should fall back to info")
	}
}
