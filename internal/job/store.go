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
	"time"
	"unicode/utf8"

	perrors "notes-platform/pkg/errors"
	"notes-platform/pkg/redaction"
)

// ErrJobNotFound Job 不存在
var ErrJobNotFound = fmt.Errorf("job %w", perrors.ErrNotFound)

// ErrSourceNotFound Source 不存在
var ErrSourceNotFound = fmt.Errorf("source %w", perrors.ErrNotFound)

// Store Source/Job 持久化：所有状态写入都是针对单行的条件更新（compare-and-set on status），
// 不做跨多次往返的读-改-写
type Store interface {
	// CreateWithSource 在同一事务内写入 Source 与其首个 Job
	CreateWithSource(ctx context.Context, src *Source, j *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	GetSource(ctx context.Context, sourceID string) (*Source, error)
	// Start queued -> processing；行已不是 queued 时返回 *IllegalTransitionError
	Start(ctx context.Context, jobID, step string) (*Job, error)
	// UpdateProgress 仅 processing 时有效；进度不严格递增时返回 ErrProgressRegression
	UpdateProgress(ctx context.Context, jobID string, progress int, step string) error
	Complete(ctx context.Context, jobID, artifactRef string) (*Job, error)
	// Requeue processing -> queued（或重试耗尽时 -> failed），返回更新后的 Job 与是否重新入队
	Requeue(ctx context.Context, jobID, cause string, maxRetries int) (*Job, bool, error)
	Fail(ctx context.Context, jobID, cause string) (*Job, error)
	// ListQueuedBefore 返回 updated_at 早于 cutoff 的 queued Job，按 updated_at 升序
	ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)
	// ListProcessingBefore 返回 updated_at 早于 cutoff 的 processing Job
	ListProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	// DeleteSource 删除 Source 并级联删除其 Job
	DeleteSource(ctx context.Context, sourceID string) error
	Close() error
}

const maxErrorLen = 1024

// truncateError 抹去凭据后最多保留 1024 字节
func truncateError(s string) string {
	s = redaction.Default().RedactString(s)
	if len(s) <= maxErrorLen {
		return s
	}
	i := maxErrorLen
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}
