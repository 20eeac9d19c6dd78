// Copyright 2026 fanjia1024
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

package errors

import (
	"errors"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil, msg) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrap(err, "context")
	if wrapped == nil {
		t.Fatal("Wrap(err, msg) should not return nil")
	}
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "format %s", "x") != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrapf(err, "id=%s", "a")
	if wrapped == nil {
		t.Fatal("Wrapf(err, ...) should not return nil")
	}
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestSentinels(t *testing.T) {
	if !errors.Is(ErrNotFound, ErrNotFound) {
		t.Error("ErrNotFound should be Is ErrNotFound")
	}
	if !errors.Is(ErrInvalidArg, ErrInvalidArg) {
		t.Error("ErrInvalidArg should be Is ErrInvalidArg")
	}
}

func TestValidationError_IsInvalidArg(t *testing.T) {
	err := Wrap(&ValidationError{Field: "link", Message: "not a youtube link"}, "submit")
	if !errors.Is(err, ErrInvalidArg) {
		t.Error("ValidationError should match ErrInvalidArg")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "link" {
		t.Errorf("errors.As ValidationError: got %v", ve)
	}
}

func TestTransientPermanent(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name      string
		err       error
		transient bool
		permanent bool
	}{
		{"plain", base, false, false},
		{"transient", Transient(base), true, false},
		{"permanent", Permanent(base), false, true},
		{"wrapped transient", Wrap(Transient(base), "convert"), true, false},
		{"wrapped permanent", Wrapf(Permanent(base), "job %s", "j1"), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.transient {
				t.Errorf("IsTransient: got %v want %v", got, tc.transient)
			}
			if got := IsPermanent(tc.err); got != tc.permanent {
				t.Errorf("IsPermanent: got %v want %v", got, tc.permanent)
			}
			if !errors.Is(tc.err, base) {
				t.Error("should unwrap to base")
			}
		})
	}
	if Transient(nil) != nil || Permanent(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestOrphanedJobError(t *testing.T) {
	base := errors.New("redis down")
	err := &OrphanedJobError{JobID: "job-1", Err: base}
	if !errors.Is(err, base) {
		t.Error("OrphanedJobError should unwrap")
	}
	if err.Error() != "job job-1 orphaned: redis down" {
		t.Errorf("Error(): %q", err.Error())
	}
}
