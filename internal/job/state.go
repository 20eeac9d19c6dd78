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
	"errors"
	"fmt"
	"time"
)

// ErrProgressRegression 进度未严格递增，写入被拒绝
var ErrProgressRegression = errors.New("progress must strictly increase")

// IllegalTransitionError 状态机不允许的迁移；也用于 CAS 失败（行状态已被其他执行者改变）
type IllegalTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
}

var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusQueued, StatusFailed},
}

// CanTransition from -> to 是否合法
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition 校验迁移，非法时返回 *IllegalTransitionError
func Transition(jobID string, from, to Status) error {
	if !CanTransition(from, to) {
		return &IllegalTransitionError{JobID: jobID, From: from, To: to}
	}
	return nil
}

// IsIllegalTransition 判断错误链中是否有 IllegalTransitionError
func IsIllegalTransition(err error) bool {
	var e *IllegalTransitionError
	return errors.As(err, &e)
}

// 以下方法在内存中对 Job 应用一次迁移，供 memory/sqlite 存储在锁或事务内调用；postgres 存储以等价的条件 UPDATE 实现

// Start queued -> processing：进度归零，写入当前步骤
func (j *Job) Start(step string, now time.Time) error {
	if err := Transition(j.ID, j.Status, StatusProcessing); err != nil {
		return err
	}
	if j.Status != StatusQueued {
		return &IllegalTransitionError{JobID: j.ID, From: j.Status, To: StatusProcessing}
	}
	j.Status = StatusProcessing
	j.Progress = 0
	j.CurrentStep = step
	j.UpdatedAt = laterOf(j.UpdatedAt, now)
	return nil
}

// Advance processing -> processing：进度必须严格递增且不超过 99（100 只由 Complete 写入）
func (j *Job) Advance(progress int, step string, now time.Time) error {
	if j.Status != StatusProcessing {
		return &IllegalTransitionError{JobID: j.ID, From: j.Status, To: StatusProcessing}
	}
	if progress <= j.Progress || progress > 99 {
		return fmt.Errorf("%w: job %s %d -> %d", ErrProgressRegression, j.ID, j.Progress, progress)
	}
	j.Progress = progress
	if step != "" {
		j.CurrentStep = step
	}
	j.UpdatedAt = laterOf(j.UpdatedAt, now)
	return nil
}

// Complete processing -> completed：进度置 100，清空错误
func (j *Job) Complete(artifactRef string, now time.Time) error {
	if err := Transition(j.ID, j.Status, StatusCompleted); err != nil {
		return err
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.CurrentStep = "completed"
	j.Error = ""
	j.ArtifactRef = artifactRef
	j.UpdatedAt = laterOf(j.UpdatedAt, now)
	return nil
}

// Retry processing -> queued（retry_count+1，进度归零）；重试次数达到 maxRetries 时改为 failed，
// 此时 retry_count == maxRetries。返回是否重新入队。
func (j *Job) Retry(cause string, maxRetries int, now time.Time) (bool, error) {
	if j.Status != StatusProcessing {
		return false, &IllegalTransitionError{JobID: j.ID, From: j.Status, To: StatusQueued}
	}
	if maxRetries <= 0 {
		return false, j.Fail(cause, now)
	}
	next := j.RetryCount + 1
	if next >= maxRetries {
		j.RetryCount = next
		return false, j.Fail(fmt.Sprintf("retries exhausted (%d): %s", next, cause), now)
	}
	j.Status = StatusQueued
	j.RetryCount = next
	j.Progress = 0
	j.CurrentStep = "waiting for retry"
	j.Error = truncateError(cause)
	j.UpdatedAt = laterOf(j.UpdatedAt, now)
	return true, nil
}

// Fail processing -> failed：写入可读的失败原因
func (j *Job) Fail(cause string, now time.Time) error {
	if err := Transition(j.ID, j.Status, StatusFailed); err != nil {
		return err
	}
	j.Status = StatusFailed
	j.CurrentStep = "failed"
	j.Error = truncateError(cause)
	j.UpdatedAt = laterOf(j.UpdatedAt, now)
	return nil
}
