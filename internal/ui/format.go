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

// Package ui renders the controller's operator-facing lines. The dashboard
// itself lives outside this module; these helpers feed its log hook and the
// plain-terminal fallback.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	bulletStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	phaseStyle   = lipgloss.NewStyle().Bold(true)
	hostStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// Bullet renders a phase progress line.
func Bullet(phase, message, hostLabel string) string {
	line := bulletStyle.Render("•") + " " + phaseStyle.Render(phase) + ": " + message
	if hostLabel != "" {
		line += " " + hostStyle.Render("["+hostLabel+"]")
	}
	return line
}

// Warn renders an operator warning (e.g. the interrupt arm banner).
func Warn(message string) string {
	return warnStyle.Render("! " + message)
}

// Error renders an error line.
func Error(message string) string {
	return errStyle.Render("✗ " + message)
}

// Success renders a completion line.
func Success(message string) string {
	return successStyle.Render("✓ " + message)
}

// RunHeader renders the run banner.
func RunHeader(runID string, hosts, workloads int) string {
	return phaseStyle.Render(fmt.Sprintf("Run %s", runID)) +
		fmt.Sprintf(" — %d host(s), %d workload(s)", hosts, workloads)
}
