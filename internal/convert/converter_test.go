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

package convert

import (
	"context"
	"errors"
	"iter"
	"testing"

	"notes-platform/internal/job"
	perrors "notes-platform/pkg/errors"
)

// staged 依次产出给定进度，最后一个检查点携带 Output
func staged(percents ...int) Converter {
	return ConverterFunc(func(ctx context.Context, src *job.Source) iter.Seq2[Checkpoint, error] {
		return func(yield func(Checkpoint, error) bool) {
			for i, p := range percents {
				cp := Checkpoint{Percent: p, Step: "step"}
				if i == len(percents)-1 {
					cp.Output = &Output{Text: "text", Format: "text"}
				}
				if !yield(cp, nil) {
					return
				}
			}
		}
	})
}

func TestRegistry_GetUnregistered(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(job.KindAudio); !perrors.IsPermanent(err) {
		t.Errorf("Get unregistered: want permanent, got %v", err)
	}
}

func TestRegistry_LimitedPassesThrough(t *testing.T) {
	r := NewRegistry()
	r.Register(job.KindYouTube, staged(20, 40, 60, 80, 100), Limit{QPS: 100, Burst: 1})
	c, err := r.Get(job.KindYouTube)
	if err != nil {
		t.Fatal(err)
	}
	cps, out, err := Collect(c.Convert(context.Background(), &job.Source{}))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(cps) != 5 || cps[4].Percent != 100 || out == nil || out.Text != "text" {
		t.Errorf("checkpoints=%v out=%v", cps, out)
	}
}

func TestRegistry_LimiterHonoursContext(t *testing.T) {
	r := NewRegistry()
	r.Register(job.KindAudio, staged(100), Limit{QPS: 0.001, Burst: 1})
	c, _ := r.Get(job.KindAudio)
	if _, _, err := Collect(c.Convert(context.Background(), &job.Source{})); err != nil {
		t.Fatalf("first call uses burst: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Collect(c.Convert(ctx, &job.Source{}))
	if !perrors.IsTransient(err) {
		t.Errorf("cancelled wait: want transient, got %v", err)
	}
}

func TestCollect_NoOutput(t *testing.T) {
	_, _, err := Collect(staged().Convert(context.Background(), &job.Source{}))
	if !perrors.IsPermanent(err) {
		t.Errorf("want permanent, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	plain := errors.New("connection reset")
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"plain", plain, true},
		{"deadline", context.DeadlineExceeded, true},
		{"503", &StatusError{Service: "x", Code: 503}, true},
		{"429", &StatusError{Service: "x", Code: 429}, true},
		{"400", &StatusError{Service: "x", Code: 400}, false},
		{"415", &StatusError{Service: "x", Code: 415}, false},
		{"already permanent", perrors.Permanent(plain), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.err)
			if perrors.IsTransient(got) != c.transient || perrors.IsPermanent(got) == c.transient {
				t.Errorf("Classify(%v) = %v", c.err, got)
			}
			if !errors.Is(got, c.err) {
				t.Errorf("Classify should wrap the cause")
			}
		})
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) != nil")
	}
}
