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

// Package errors defines the typed failure kinds surfaced by the controller
// engine, plus small helpers for wrapping with context.
package errors

import (
	"fmt"
	"strings"
)

// ResumeMismatchError indicates a journal cannot be resumed because the
// current configuration does not match the one the journal was created with.
type ResumeMismatchError struct {
	JournalPath   string
	StoredHash    string
	CurrentHash   string
	HasConfigDump bool
}

func (e *ResumeMismatchError) Error() string {
	return fmt.Sprintf(
		"config hash mismatch for resume of %s: journal has %s, current config is %s",
		e.JournalPath, e.StoredHash, e.CurrentHash,
	)
}

// CorruptJournalError indicates a journal file exists but cannot be parsed.
type CorruptJournalError struct {
	Path string
	Err  error
}

func (e *CorruptJournalError) Error() string {
	return fmt.Sprintf("corrupt run journal at %s: %v", e.Path, e.Err)
}

func (e *CorruptJournalError) Unwrap() error { return e.Err }

// ConnectivityError reports hosts that failed the pre-flight probe.
type ConnectivityError struct {
	Unreachable []string
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("unreachable hosts: %s", strings.Join(e.Unreachable, ", "))
}

// ProvisioningError indicates the external provisioner could not deliver the
// requested nodes.
type ProvisioningError struct {
	Mode string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning (%s) failed: %v", e.Mode, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ScriptError reports a non-zero result from a remote script phase. Phase
// failures are normally converted to summary values by the orchestrator;
// this type is used when a phase result must cross an API boundary.
type ScriptError struct {
	Phase  string
	Host   string
	RC     int
	Status string
}

func (e *ScriptError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("phase %s failed on %s: rc=%d status=%s", e.Phase, e.Host, e.RC, e.Status)
	}
	return fmt.Sprintf("phase %s failed: rc=%d status=%s", e.Phase, e.RC, e.Status)
}

// InvalidTransitionError reports a controller state transition outside the
// allowed edge table. Callers log and drop it; it is a debugging signal, not
// a runtime failure.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid controller state transition %s -> %s", e.From, e.To)
}
