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

// Package sysinfo summarizes the per-host system_info.json artifacts the
// remote collectors leave under the output root and attaches them to the
// journal metadata.
package sysinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/loadbench/internal/journal"
)

// hostInfo mirrors the fields collectors write; everything is optional.
type hostInfo struct {
	Hostname     string  `json:"hostname"`
	OS           string  `json:"os"`
	Kernel       string  `json:"kernel"`
	CPUModel     string  `json:"cpu_model"`
	CPUCount     int     `json:"cpu_count"`
	MemoryTotal  float64 `json:"memory_total_gb"`
	Architecture string  `json:"architecture"`
}

// Attach reads each host's system_info.json under the output root and
// stores a one-line summary in the journal. Returns true when anything was
// attached.
func Attach(j *journal.Journal, outputRoot string, hosts []string) bool {
	attached := false
	for _, host := range hosts {
		path := filepath.Join(outputRoot, host, "system_info.json")
		summary, ok := summarize(path)
		if !ok {
			continue
		}
		j.SetSystemInfo(host, summary)
		attached = true
	}
	return attached
}

func summarize(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var info hostInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return "", false
	}

	var parts []string
	if info.OS != "" {
		parts = append(parts, info.OS)
	}
	if info.Kernel != "" {
		parts = append(parts, "kernel "+info.Kernel)
	}
	if info.CPUModel != "" {
		cpu := info.CPUModel
		if info.CPUCount > 0 {
			cpu = fmt.Sprintf("%dx %s", info.CPUCount, cpu)
		}
		parts = append(parts, cpu)
	}
	if info.MemoryTotal > 0 {
		parts = append(parts, fmt.Sprintf("%.1f GiB RAM", info.MemoryTotal))
	}
	if info.Architecture != "" {
		parts = append(parts, info.Architecture)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, ", "), true
}
