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

package reconcile

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"notes-platform/internal/job"
	"notes-platform/internal/taskqueue"
)

func seedAt(t *testing.T, store *job.MemoryStore, at time.Time) *job.Job {
	t.Helper()
	src := &job.Source{ID: job.NewSourceID(), Kind: job.KindAudio, Locator: "uploads/u/x.mp3", UserID: "u", CreatedAt: at}
	j := job.NewQueued(src, at)
	if err := store.CreateWithSource(context.Background(), src, j); err != nil {
		t.Fatal(err)
	}
	return j
}

func startAt(t *testing.T, store *job.MemoryStore, id string, at time.Time) {
	t.Helper()
	store.SetClock(func() time.Time { return at })
	defer store.SetClock(time.Now)
	if _, err := store.Start(context.Background(), id, "starting"); err != nil {
		t.Fatal(err)
	}
}

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := job.NewMemoryStore()
	queue := taskqueue.NewMemoryQueue(taskqueue.Options{})
	defer queue.Close()

	orphanQueued := seedAt(t, store, now.Add(-10*time.Minute))
	enqueuedQueued := seedAt(t, store, now.Add(-10*time.Minute))
	if _, err := queue.Enqueue(ctx, enqueuedQueued.ID, 0); err != nil {
		t.Fatal(err)
	}
	freshQueued := seedAt(t, store, now.Add(-30*time.Second))

	orphanProcessing := seedAt(t, store, now.Add(-2*time.Hour))
	startAt(t, store, orphanProcessing.ID, now.Add(-time.Hour))
	leasedProcessing := seedAt(t, store, now.Add(-2*time.Hour))
	startAt(t, store, leasedProcessing.ID, now.Add(-time.Hour))
	if _, err := queue.Enqueue(ctx, leasedProcessing.ID, 0); err != nil {
		t.Fatal(err)
	}
	activeProcessing := seedAt(t, store, now.Add(-10*time.Minute))
	startAt(t, store, activeProcessing.ID, now.Add(-5*time.Minute))

	s := NewSweeper(Config{Grace: 2 * time.Minute, JobTimeout: 30 * time.Minute}, store, queue, nil, nil)
	s.SetClock(func() time.Time { return now })
	res, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if res.Requeued != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 requeued, 1 failed", res)
	}

	if ok, _ := queue.Contains(ctx, orphanQueued.ID); !ok {
		t.Errorf("orphaned queued job not re-enqueued")
	}
	if ok, _ := queue.Contains(ctx, freshQueued.ID); ok {
		t.Errorf("job within grace period was re-enqueued")
	}
	got, _ := store.Get(ctx, orphanProcessing.ID)
	if got.Status != job.StatusFailed || !strings.HasPrefix(got.Error, "orphaned") {
		t.Errorf("orphaned processing job = %+v", got)
	}
	for _, id := range []string{leasedProcessing.ID, activeProcessing.ID} {
		if got, _ := store.Get(ctx, id); got.Status != job.StatusProcessing {
			t.Errorf("job %s status = %s, want processing", id, got.Status)
		}
	}

	// 第二次扫描无事可做
	res, err = s.SweepOnce(ctx)
	if err != nil || res.Requeued != 0 || res.Failed != 0 {
		t.Fatalf("second sweep = %+v, %v", res, err)
	}
}

type countingLocker struct {
	held     bool
	attempts atomic.Int32
	unlocked atomic.Bool
}

func (l *countingLocker) TryLock(context.Context) (bool, error) {
	l.attempts.Add(1)
	return l.held, nil
}

func (l *countingLocker) Unlock(context.Context) error {
	l.unlocked.Store(true)
	return nil
}

func TestRun_SweepsOnlyWhenLockHeld(t *testing.T) {
	now := time.Now()
	for _, held := range []bool{true, false} {
		store := job.NewMemoryStore()
		queue := taskqueue.NewMemoryQueue(taskqueue.Options{})
		orphan := seedAt(t, store, now.Add(-time.Hour))
		locker := &countingLocker{held: held}
		s := NewSweeper(Config{Interval: 10 * time.Millisecond}, store, queue, locker, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		s.Run(ctx)
		cancel()

		if locker.attempts.Load() < 2 {
			t.Errorf("held=%v: lock attempted %d times", held, locker.attempts.Load())
		}
		if !locker.unlocked.Load() {
			t.Errorf("held=%v: lock not released on exit", held)
		}
		ok, _ := queue.Contains(context.Background(), orphan.ID)
		if ok != held {
			t.Errorf("held=%v: orphan enqueued = %v", held, ok)
		}
		queue.Close()
	}
}
