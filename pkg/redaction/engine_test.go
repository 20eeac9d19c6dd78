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

package redaction

import (
	"strings"
	"testing"
)

func TestRedactString_Defaults(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	cases := []struct {
		in, want string
	}{
		{
			"dial postgres://notes:hunter2@db:5432/notes failed",
			"dial postgres://***REDACTED***@db:5432/notes failed",
		},
		{
			`GET "https://s3.example.com/b/o?X-Amz-Signature=abc123&x=1": 403`,
			`GET "https://s3.example.com/b/o?X-Amz-Signature=***REDACTED***&x=1": 403`,
		},
		{
			"transcribe: 401 for Authorization: Bearer eyJhbGciOi.x.y",
			"transcribe: 401 for Authorization: Bearer ***REDACTED***",
		},
		{"video unavailable", "video unavailable"},
	}
	for _, tc := range cases {
		if got := e.RedactString(tc.in); got != tc.want {
			t.Errorf("RedactString(%q)\n got  %q\n want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactString_HashMode(t *testing.T) {
	policy, err := LoadPolicy([]RuleConfig{
		{Name: "session", Pattern: `(session=)(\w+)`, Mode: RedactionModeHash, Salt: "s"},
	})
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	e := NewEngine(policy)

	a := e.RedactString("cookie session=abc")
	b := e.RedactString("cookie session=abc")
	if a != b {
		t.Fatalf("hash should be stable: %q vs %q", a, b)
	}
	if strings.Contains(a, "abc") || !strings.HasPrefix(a, "cookie session=hash:") {
		t.Fatalf("unexpected output %q", a)
	}
}

func TestRedactString_RemoveMode(t *testing.T) {
	policy, err := LoadPolicy([]RuleConfig{{Name: "pin", Pattern: `(pin:)(\d+)`, Mode: RedactionModeRemove}})
	if err != nil {
		t.Fatal(err)
	}
	if got := NewEngine(policy).RedactString("pin:1234 rejected"); got != "pin: rejected" {
		t.Fatalf("got %q", got)
	}
}

func TestLoadPolicy_RejectsBadPattern(t *testing.T) {
	if _, err := LoadPolicy([]RuleConfig{{Name: "bad", Pattern: `(`}}); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := LoadPolicy([]RuleConfig{{Name: "one-group", Pattern: `(token)`}}); err == nil {
		t.Fatal("expected group count error")
	}
}
