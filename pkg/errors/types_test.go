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

package errors_test

import (
	stderrors "errors"
	"strings"
	"testing"

	lberrors "github.com/tombee/loadbench/pkg/errors"
)

func TestResumeMismatchError(t *testing.T) {
	err := &lberrors.ResumeMismatchError{
		JournalPath: "/tmp/run_journal.json",
		StoredHash:  "aaa",
		CurrentHash: "bbb",
	}
	msg := err.Error()
	for _, want := range []string{"aaa", "bbb", "run_journal.json"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message should contain %q, got: %s", want, msg)
		}
	}
}

func TestCorruptJournalErrorUnwrap(t *testing.T) {
	inner := stderrors.New("unexpected end of JSON input")
	err := &lberrors.CorruptJournalError{Path: "/tmp/j.json", Err: inner}
	if !stderrors.Is(err, inner) {
		t.Error("CorruptJournalError should unwrap to the parse error")
	}
	var target *lberrors.CorruptJournalError
	if !lberrors.As(lberrors.Wrap(err, "loading journal"), &target) {
		t.Error("As should find CorruptJournalError through a wrap")
	}
}

func TestScriptErrorMessage(t *testing.T) {
	t.Run("with host", func(t *testing.T) {
		err := &lberrors.ScriptError{Phase: "setup_global", Host: "h1", RC: 2, Status: "failed"}
		if !strings.Contains(err.Error(), "h1") {
			t.Errorf("expected host in message, got %s", err.Error())
		}
	})
	t.Run("without host", func(t *testing.T) {
		err := &lberrors.ScriptError{Phase: "teardown_global", RC: 1, Status: "failed"}
		if strings.Contains(err.Error(), "on ") {
			t.Errorf("unexpected host clause in message: %s", err.Error())
		}
	})
}

func TestWrapNil(t *testing.T) {
	if lberrors.Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if lberrors.Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}
