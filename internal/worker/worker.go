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


// Package worker 消费任务队列并执行转换：推进 Job 状态、持久化进度检查点、按错误类型重试或失败
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"notes-platform/internal/convert"
	"notes-platform/internal/job"
	"notes-platform/internal/taskqueue"
	"notes-platform/pkg/log"
	"notes-platform/pkg/metrics"
)

const (
	DefaultMaxRetries  = 3
	DefaultJobTimeout  = 30 * time.Minute
	DefaultConcurrency = 2
)

// Config Worker 参数；零值字段使用默认值
type Config struct {
	WorkerID          string
	Concurrency       int
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration // 默认为队列租约的一半
	PollInterval      time.Duration // Receive 出错后的等待
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = DefaultWorkerID()
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = taskqueue.DefaultLeaseDuration / 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// ArtifactSink 转换成功后保存产物，返回写入 Job 的引用；对同一 Job 重复调用需幂等
type ArtifactSink interface {
	Save(ctx context.Context, j *job.Job, src *job.Source, out *convert.Output) (string, error)
}

// Worker 从队列接收任务并执行；并发上限由信号量控制
type Worker struct {
	cfg        Config
	store      job.Store
	queue      taskqueue.Queue
	converters *convert.Registry
	sink       ArtifactSink
	logger     *log.Logger

	limiter  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New 创建 Worker
func New(cfg Config, store job.Store, queue taskqueue.Queue, converters *convert.Registry, sink ArtifactSink, logger *log.Logger) *Worker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Nop()
	}
	return &Worker{
		cfg:        cfg,
		store:      store,
		queue:      queue,
		converters: converters,
		sink:       sink,
		logger:     logger.With("worker_id", cfg.WorkerID),
		limiter:    make(chan struct{}, cfg.Concurrency),
		stopCh:     make(chan struct{}),
	}
}

// Start 启动接收循环；先占并发槽位再 Receive，执行结束释放槽位
func (w *Worker) Start(ctx context.Context) {
	recvCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-w.stopCh:
		case <-ctx.Done():
		}
		cancel()
	}()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-recvCtx.Done():
				return
			case w.limiter <- struct{}{}:
			}
			d, err := w.queue.Receive(recvCtx)
			if err != nil {
				<-w.limiter
				if recvCtx.Err() != nil || errors.Is(err, taskqueue.ErrClosed) {
					return
				}
				w.logger.Error("receive failed", "error", err)
				select {
				case <-recvCtx.Done():
					return
				case <-time.After(w.cfg.PollInterval):
				}
				continue
			}
			w.wg.Add(1)
			go func(d *taskqueue.Delivery) {
				defer w.wg.Done()
				defer func() { <-w.limiter }()
				if _, err := w.RunOnce(ctx, d); err != nil {
					w.logger.Error("run failed", "job_id", d.JobID, "error", err)
				}
			}(d)
		}
	}()
	w.logger.Info("worker started", "concurrency", w.cfg.Concurrency)
}

// Stop 停止接收新任务并等待执行中的任务结束
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// DefaultWorkerID 返回默认 Worker 标识（WORKER_ID 或 hostname）
func DefaultWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if host, _ := os.Hostname(); host != "" {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return "worker-unknown"
}

func (w *Worker) busy(delta float64) {
	metrics.WorkerBusy.WithLabelValues(w.cfg.WorkerID).Add(delta)
}
