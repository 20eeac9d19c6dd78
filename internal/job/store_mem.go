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

package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore 内存实现：单进程开发与测试用，所有写入在同一把锁内完成
type MemoryStore struct {
	mu      sync.Mutex
	sources map[string]*Source
	jobs    map[string]*Job
	now     func() time.Time
}

// NewMemoryStore 创建内存 Store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[string]*Source),
		jobs:    make(map[string]*Job),
		now:     time.Now,
	}
}

// SetClock 替换时钟，测试用
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) CreateWithSource(ctx context.Context, src *Source, j *Job) error {
	if src == nil || j == nil {
		return fmt.Errorf("source and job are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[src.ID]; ok {
		return fmt.Errorf("source %s already exists", src.ID)
	}
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	if j.SourceID != src.ID {
		return fmt.Errorf("job %s references source %s, want %s", j.ID, j.SourceID, src.ID)
	}
	sc := *src
	jc := *j
	s.sources[src.ID] = &sc
	s.jobs[j.ID] = &jc
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return nil, ErrSourceNotFound
	}
	cp := *src
	return &cp, nil
}

// mutate 在锁内对 Job 副本应用 fn，成功后整体替换，失败时原值不变
func (s *MemoryStore) mutate(jobID string, fn func(j *Job, now time.Time) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	next := *cur
	if err := fn(&next, s.now()); err != nil {
		return nil, err
	}
	s.jobs[jobID] = &next
	out := next
	return &out, nil
}

func (s *MemoryStore) Start(ctx context.Context, jobID, step string) (*Job, error) {
	return s.mutate(jobID, func(j *Job, now time.Time) error { return j.Start(step, now) })
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	_, err := s.mutate(jobID, func(j *Job, now time.Time) error { return j.Advance(progress, step, now) })
	return err
}

func (s *MemoryStore) Complete(ctx context.Context, jobID, artifactRef string) (*Job, error) {
	return s.mutate(jobID, func(j *Job, now time.Time) error { return j.Complete(artifactRef, now) })
}

func (s *MemoryStore) Requeue(ctx context.Context, jobID, cause string, maxRetries int) (*Job, bool, error) {
	var requeued bool
	j, err := s.mutate(jobID, func(j *Job, now time.Time) error {
		var err error
		requeued, err = j.Retry(cause, maxRetries, now)
		return err
	})
	return j, requeued, err
}

func (s *MemoryStore) Fail(ctx context.Context, jobID, cause string) (*Job, error) {
	return s.mutate(jobID, func(j *Job, now time.Time) error { return j.Fail(cause, now) })
}

func (s *MemoryStore) listBefore(status Status, cutoff time.Time, limit int) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if j.Status == status && j.UpdatedAt.Before(cutoff) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	return s.listBefore(StatusQueued, cutoff, limit), nil
}

func (s *MemoryStore) ListProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	return s.listBefore(StatusProcessing, cutoff, limit), nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Status]int)
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out, nil
}

func (s *MemoryStore) DeleteSource(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[sourceID]; !ok {
		return ErrSourceNotFound
	}
	delete(s.sources, sourceID)
	for id, j := range s.jobs {
		if j.SourceID == sourceID {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
