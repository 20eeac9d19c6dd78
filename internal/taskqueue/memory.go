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


package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	task      Task
	visibleAt time.Time
	token     string // 非空表示曾被投递；租约过期后由下一次投递覆盖
}

// MemoryQueue 进程内实现，用于测试与单进程模式
type MemoryQueue struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*memEntry
	closed  bool
	wake    chan struct{}
	now     func() time.Time
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:    opts.withDefaults(),
		entries: make(map[string]*memEntry),
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// SetClock 替换时钟，测试用
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

func (q *MemoryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrClosed
	}
	if _, ok := q.entries[jobID]; ok {
		return false, nil
	}
	now := q.now()
	if delay < 0 {
		delay = 0
	}
	q.entries[jobID] = &memEntry{
		task:      Task{JobID: jobID, EnqueuedAt: now},
		visibleAt: now.Add(delay),
	}
	q.notify()
	return true, nil
}

// claim 取出最早可见的一条并加租约；无可投递任务时返回距下一条可见的等待时间
func (q *MemoryQueue) claim() (*Delivery, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, 0, ErrClosed
	}
	now := q.now()
	var best *memEntry
	for _, e := range q.entries {
		if e.visibleAt.After(now) {
			continue
		}
		if best == nil || e.visibleAt.Before(best.visibleAt) ||
			(e.visibleAt.Equal(best.visibleAt) && e.task.EnqueuedAt.Before(best.task.EnqueuedAt)) {
			best = e
		}
	}
	if best == nil {
		wait := q.opts.PollInterval
		for _, e := range q.entries {
			if d := e.visibleAt.Sub(now); d < wait {
				wait = d
			}
		}
		return nil, wait, nil
	}
	best.task.Attempts++
	best.token = uuid.New().String()
	best.visibleAt = now.Add(q.opts.LeaseDuration)
	return &Delivery{Task: best.task, Token: best.token, LeaseUntil: best.visibleAt}, 0, nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		d, wait, err := q.claim()
		if err != nil || d != nil {
			return d, err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-q.wake:
		case <-t.C:
		}
		t.Stop()
	}
}

// leased 校验 d 仍持有有效租约
func (q *MemoryQueue) leased(d *Delivery) (*memEntry, error) {
	e, ok := q.entries[d.JobID]
	if !ok || e.token != d.Token || !e.visibleAt.After(q.now()) {
		return nil, ErrLeaseLost
	}
	return e, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.leased(d); err != nil {
		return err
	}
	delete(q.entries, d.JobID)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.leased(d)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}
	e.token = ""
	e.visibleAt = q.now().Add(delay)
	q.notify()
	return nil
}

func (q *MemoryQueue) Extend(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.leased(d)
	if err != nil {
		return err
	}
	e.visibleAt = q.now().Add(q.opts.LeaseDuration)
	d.LeaseUntil = e.visibleAt
	return nil
}

func (q *MemoryQueue) Contains(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[jobID]
	return ok, nil
}

// Len 队列中任务数（含延迟与租约中）
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
