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

package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"notes-platform/internal/convert"
	"notes-platform/internal/job"
	"notes-platform/internal/taskqueue"
	perrors "notes-platform/pkg/errors"
	"notes-platform/pkg/metrics"
	"notes-platform/pkg/tracing"
)

// Outcome 一次投递的处理结果
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeSkipped   Outcome = "skipped"   // 已终态或不存在，直接 Ack
	OutcomeAbandoned Outcome = "abandoned" // 失去所有权或进程退出，不再写入
)

const stepStarting = "starting"

// errOwnershipLost 租约或行状态已被其他执行者接管
var errOwnershipLost = errors.New("job ownership lost")

// RunOnce 处理一次投递。Job 的每次写入都以状态为条件，重复投递不会重复产生副作用。
// 返回 error 仅表示队列或存储本身出错，此时投递未被确认。
func (w *Worker) RunOnce(ctx context.Context, d *taskqueue.Delivery) (outcome Outcome, err error) {
	j, err := w.store.Get(ctx, d.JobID)
	if errors.Is(err, job.ErrJobNotFound) {
		w.logger.Info("job not found, dropping task", "job_id", d.JobID)
		return OutcomeSkipped, w.ack(ctx, d)
	}
	if err != nil {
		return "", fmt.Errorf("load job %s: %w", d.JobID, err)
	}
	if j.Status.IsTerminal() {
		return OutcomeSkipped, w.ack(ctx, d)
	}

	kind := string(j.Kind)
	ctx, span := tracing.StartJobSpan(ctx, j.ID, kind, d.Attempts)
	defer func() { tracing.EndSpan(span, err) }()
	start := time.Now()
	defer func() {
		metrics.JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if outcome != "" {
			metrics.JobTotal.WithLabelValues(kind, string(outcome)).Inc()
		}
	}()

	if j.Status == job.StatusProcessing {
		// 上一次投递的租约已过期，视为上一次尝试的瞬时失败
		w.logger.Warn("job found processing on delivery; previous lease expired", "job_id", j.ID, "attempts", d.Attempts)
		return w.retry(ctx, d, j, "lease expired")
	}

	started, err := w.store.Start(ctx, j.ID, stepStarting)
	if err != nil {
		if job.IsIllegalTransition(err) {
			return w.handleStale(ctx, d)
		}
		return "", fmt.Errorf("start job %s: %w", d.JobID, err)
	}
	j = started
	w.busy(1)
	defer w.busy(-1)
	w.logger.Info("job started", "job_id", j.ID, "kind", j.Kind, "attempt", d.Attempts, "retry_count", j.RetryCount)

	src, err := w.store.GetSource(ctx, j.SourceID)
	if err != nil {
		return w.retry(ctx, d, j, fmt.Sprintf("load source: %v", err))
	}
	out, runErr := w.execute(ctx, d, j, src)
	switch {
	case errors.Is(runErr, errOwnershipLost):
		w.logger.Warn("lost ownership of job, abandoning attempt", "job_id", j.ID)
		return w.abandon(ctx, d)
	case ctx.Err() != nil:
		// 进程退出：不写 Job，释放投递让其他 Worker 接手
		nackCtx := context.WithoutCancel(ctx)
		if err := w.queue.Nack(nackCtx, d, 0); err != nil && !errors.Is(err, taskqueue.ErrLeaseLost) {
			return OutcomeAbandoned, err
		}
		return OutcomeAbandoned, nil
	case runErr != nil:
		return w.handleFailure(ctx, d, j, runErr)
	}

	ref, err := w.sink.Save(ctx, j, src, out)
	if err != nil {
		return w.retry(ctx, d, j, fmt.Sprintf("save artifact: %v", err))
	}
	if _, err := w.store.Complete(ctx, j.ID, ref); err != nil {
		if job.IsIllegalTransition(err) {
			return w.abandon(ctx, d)
		}
		return "", fmt.Errorf("complete job %s: %w", j.ID, err)
	}
	w.logger.Info("job completed", "job_id", j.ID, "artifact_ref", ref, "duration", time.Since(start))
	return OutcomeCompleted, w.ack(ctx, d)
}

// execute 在超时与心跳保护下运行转换器并持久化进度；只返回 Output 或错误
func (w *Worker) execute(ctx context.Context, d *taskqueue.Delivery, j *job.Job, src *job.Source) (*convert.Output, error) {
	conv, err := w.converters.Get(j.Kind)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()
	var lost atomic.Bool
	stopHeartbeat := w.heartbeat(runCtx, d, func() {
		lost.Store(true)
		cancel()
	})
	defer stopHeartbeat()

	var out *convert.Output
	var convErr error
	last := j.Progress
	steps, next := pump(runCtx, conv.Convert(runCtx, src))
loop:
	for {
		var st checkpointStep
		var ok bool
		select {
		case st, ok = <-steps:
		case <-runCtx.Done():
			// 不理会 ctx 的转换器不会阻止超时生效
			break loop
		}
		if !ok {
			break loop
		}
		if st.err != nil {
			convErr = st.err
			break loop
		}
		cp := st.cp
		if cp.Output != nil {
			out = cp.Output
		}
		// 100 由 Complete 写入；不递增的检查点跳过
		if cp.Percent > last && cp.Percent < 100 {
			if err := w.store.UpdateProgress(ctx, j.ID, cp.Percent, cp.Step); err != nil {
				if job.IsIllegalTransition(err) {
					lost.Store(true)
					cancel()
					break loop
				}
				w.logger.Warn("persist progress failed", "job_id", j.ID, "progress", cp.Percent, "error", err)
			} else {
				last = cp.Percent
			}
		}
		select {
		case next <- struct{}{}:
		case <-runCtx.Done():
			break loop
		}
	}
	stopHeartbeat()

	if lost.Load() {
		return nil, errOwnershipLost
	}
	if convErr == nil && out != nil {
		return out, nil
	}
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &timeoutError{after: w.cfg.JobTimeout}
	}
	if convErr == nil {
		return nil, perrors.Permanent(errors.New("conversion produced no output"))
	}
	return nil, convErr
}

type checkpointStep struct {
	cp  convert.Checkpoint
	err error
}

// pump 在独立 goroutine 中消费检查点序列。每个检查点交出后等待 next，
// 保证转换器继续执行之前上一个检查点已经落库；ctx 结束后 goroutine 在下一次交出时退出。
func pump(ctx context.Context, seq iter.Seq2[convert.Checkpoint, error]) (<-chan checkpointStep, chan<- struct{}) {
	steps := make(chan checkpointStep)
	next := make(chan struct{})
	go func() {
		defer close(steps)
		for cp, err := range seq {
			select {
			case steps <- checkpointStep{cp: cp, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
		}
	}()
	return steps, next
}

type timeoutError struct {
	after time.Duration
}

func (e *timeoutError) Error() string { return fmt.Sprintf("timeout after %s", e.after) }

// heartbeat 定期延长租约；租约丢失时调用 onLost。返回的 stop 可重复调用。
func (w *Worker) heartbeat(ctx context.Context, d *taskqueue.Delivery, onLost func()) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := w.queue.Extend(hbCtx, d)
				if errors.Is(err, taskqueue.ErrLeaseLost) {
					w.logger.Warn("lease lost", "job_id", d.JobID)
					onLost()
					return
				}
				if err != nil && hbCtx.Err() == nil {
					w.logger.Warn("heartbeat failed", "job_id", d.JobID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// handleFailure 按错误类型推进状态：超时与永久错误直接失败，其余重试
func (w *Worker) handleFailure(ctx context.Context, d *taskqueue.Delivery, j *job.Job, runErr error) (Outcome, error) {
	var te *timeoutError
	if errors.As(runErr, &te) {
		return w.fail(ctx, d, j, OutcomeTimeout, runErr.Error())
	}
	classified := convert.Classify(runErr)
	if perrors.IsPermanent(classified) {
		return w.fail(ctx, d, j, OutcomeFailed, runErr.Error())
	}
	return w.retry(ctx, d, j, runErr.Error())
}

func (w *Worker) fail(ctx context.Context, d *taskqueue.Delivery, j *job.Job, outcome Outcome, cause string) (Outcome, error) {
	if _, err := w.store.Fail(ctx, j.ID, cause); err != nil {
		if job.IsIllegalTransition(err) {
			return w.abandon(ctx, d)
		}
		return "", fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	w.logger.Info("job failed", "job_id", j.ID, "cause", cause)
	return outcome, w.ack(ctx, d)
}

// retry 重新入队（Nack 带退避）；重试次数耗尽时 Job 已被置为 failed，确认投递
func (w *Worker) retry(ctx context.Context, d *taskqueue.Delivery, j *job.Job, cause string) (Outcome, error) {
	updated, requeued, err := w.store.Requeue(ctx, j.ID, cause, w.cfg.MaxRetries)
	if err != nil {
		if job.IsIllegalTransition(err) {
			return w.abandon(ctx, d)
		}
		return "", fmt.Errorf("requeue job %s: %w", j.ID, err)
	}
	if !requeued {
		w.logger.Info("job failed after retries", "job_id", j.ID, "retry_count", updated.RetryCount, "cause", cause)
		return OutcomeFailed, w.ack(ctx, d)
	}
	delay := Backoff(w.cfg.BackoffBase, w.cfg.BackoffMax, updated.RetryCount)
	metrics.JobRetriesTotal.WithLabelValues(string(j.Kind)).Inc()
	w.logger.Info("job requeued", "job_id", j.ID, "retry_count", updated.RetryCount, "delay", delay, "cause", cause)
	if err := w.queue.Nack(ctx, d, delay); err != nil {
		if errors.Is(err, taskqueue.ErrLeaseLost) {
			// 任务已被重新投递；新投递会看到 queued 状态并正常执行
			return OutcomeRetried, nil
		}
		return OutcomeRetried, fmt.Errorf("nack job %s: %w", j.ID, err)
	}
	return OutcomeRetried, nil
}

// handleStale Start 失败：其他投递已推进该 Job。不写 Job，只处理投递
func (w *Worker) handleStale(ctx context.Context, d *taskqueue.Delivery) (Outcome, error) {
	terminal, err := w.release(ctx, d)
	if terminal {
		return OutcomeSkipped, err
	}
	return OutcomeAbandoned, err
}

// abandon 本次尝试的写入被拒绝（行状态已变或租约丢失）时放弃，并释放投递
func (w *Worker) abandon(ctx context.Context, d *taskqueue.Delivery) (Outcome, error) {
	_, err := w.release(ctx, d)
	return OutcomeAbandoned, err
}

// release 终态或已删除的 Job 确认投递；其余立即 Nack，不必等待租约过期。
// 租约已丢失时什么也不做，由当前持有者处理。
func (w *Worker) release(ctx context.Context, d *taskqueue.Delivery) (terminal bool, err error) {
	cur, err := w.store.Get(ctx, d.JobID)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return true, w.ack(ctx, d)
	case err != nil:
		w.logger.Warn("load job for release failed; delivery left to lease expiry", "job_id", d.JobID, "error", err)
		return false, nil
	case cur.Status.IsTerminal():
		return true, w.ack(ctx, d)
	}
	if err := w.queue.Nack(ctx, d, 0); err != nil && !errors.Is(err, taskqueue.ErrLeaseLost) {
		return false, fmt.Errorf("release job %s: %w", d.JobID, err)
	}
	return false, nil
}

func (w *Worker) ack(ctx context.Context, d *taskqueue.Delivery) error {
	err := w.queue.Ack(ctx, d)
	if errors.Is(err, taskqueue.ErrLeaseLost) {
		// 重复投递会在终态处短路
		w.logger.Warn("ack after lease loss", "job_id", d.JobID)
		return nil
	}
	return err
}
