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

// Package reconcile 周期性修复 Job 行与队列之间的不一致：入队失败遗留的 queued Job，
// 以及任务已丢失却停留在 processing 的 Job。
package reconcile

import (
	"context"
	"fmt"
	"time"

	"notes-platform/internal/job"
	"notes-platform/internal/taskqueue"
	perrors "notes-platform/pkg/errors"
	"notes-platform/pkg/log"
	"notes-platform/pkg/metrics"
	"notes-platform/pkg/tracing"
)

const (
	DefaultInterval  = time.Minute
	DefaultGrace     = 2 * time.Minute
	DefaultBatchSize = 100
)

type Config struct {
	Interval   time.Duration
	Grace      time.Duration
	JobTimeout time.Duration // 与 Worker 的 job_timeout 一致
	BatchSize  int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Result 一次扫描的处理数量
type Result struct {
	Requeued int
	Failed   int
}

type Sweeper struct {
	cfg    Config
	store  job.Store
	queue  taskqueue.Queue
	locker Locker
	logger *log.Logger
	now    func() time.Time
}

// NewSweeper 创建 Sweeper；locker 为 nil 时使用 NoopLocker
func NewSweeper(cfg Config, store job.Store, queue taskqueue.Queue, locker Locker, logger *log.Logger) *Sweeper {
	if locker == nil {
		locker = NoopLocker{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Sweeper{
		cfg:    cfg.withDefaults(),
		store:  store,
		queue:  queue,
		locker: locker,
		logger: logger.With("component", "reconcile"),
		now:    time.Now,
	}
}

// SetClock 替换时钟，测试用
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// SweepOnce 执行一次扫描
func (s *Sweeper) SweepOnce(ctx context.Context) (res Result, err error) {
	ctx, span := tracing.StartSweepSpan(ctx)
	defer func() { tracing.EndSpan(span, err) }()
	now := s.now()

	queued, err := s.store.ListQueuedBefore(ctx, now.Add(-s.cfg.Grace), s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list queued: %w", err)
	}
	for _, j := range queued {
		ok, err := s.queue.Contains(ctx, j.ID)
		if err != nil {
			return res, fmt.Errorf("queue contains %s: %w", j.ID, err)
		}
		if ok {
			continue
		}
		s.logger.Warn("re-enqueueing orphaned job",
			"job_id", j.ID, "error", &perrors.OrphanedJobError{JobID: j.ID, Err: fmt.Errorf("queued since %s without a task", j.UpdatedAt.Format(time.RFC3339))})
		added, err := s.queue.Enqueue(ctx, j.ID, 0)
		if err != nil {
			return res, fmt.Errorf("enqueue %s: %w", j.ID, err)
		}
		if added {
			res.Requeued++
			metrics.ReconcileTotal.WithLabelValues("requeued").Inc()
		}
	}

	stale, err := s.store.ListProcessingBefore(ctx, now.Add(-(s.cfg.JobTimeout + s.cfg.Grace)), s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list processing: %w", err)
	}
	for _, j := range stale {
		ok, err := s.queue.Contains(ctx, j.ID)
		if err != nil {
			return res, fmt.Errorf("queue contains %s: %w", j.ID, err)
		}
		if ok {
			// 任务仍在队列中，租约过期后会被重新投递
			continue
		}
		cause := fmt.Sprintf("orphaned: no progress since %s and no task in queue", j.UpdatedAt.Format(time.RFC3339))
		if _, err := s.store.Fail(ctx, j.ID, cause); err != nil {
			if job.IsIllegalTransition(err) {
				continue
			}
			return res, fmt.Errorf("fail %s: %w", j.ID, err)
		}
		s.logger.Warn("failed orphaned processing job", "job_id", j.ID, "updated_at", j.UpdatedAt)
		res.Failed++
		metrics.ReconcileTotal.WithLabelValues("failed").Inc()
	}

	if counts, err := s.store.CountByStatus(ctx); err == nil {
		for _, st := range []job.Status{job.StatusQueued, job.StatusProcessing, job.StatusCompleted, job.StatusFailed} {
			metrics.JobsByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
		}
	} else {
		s.logger.Warn("count jobs by status failed", "error", err)
	}
	return res, nil
}

// Run 每个 Interval 在持有锁时执行一次扫描，直到 ctx 结束
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release reconcile lock failed", "error", err)
		}
	}()
	s.logger.Info("reconcile started", "interval", s.cfg.Interval, "grace", s.cfg.Grace)
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	held, err := s.locker.TryLock(ctx)
	if err != nil {
		s.logger.Warn("acquire reconcile lock failed", "error", err)
		return
	}
	if !held {
		return
	}
	res, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("reconcile sweep failed", "error", err)
		return
	}
	if res.Requeued > 0 || res.Failed > 0 {
		s.logger.Info("reconcile sweep", "requeued", res.Requeued, "failed", res.Failed)
	}
}
