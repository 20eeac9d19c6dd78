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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind 内容类型，Source 与 Job 共用
type Kind string

const (
	KindAudio    Kind = "audio"
	KindYouTube  Kind = "youtube"
	KindDocument Kind = "document"
)

// Valid 是否为已知类型
func (k Kind) Valid() bool {
	switch k {
	case KindAudio, KindYouTube, KindDocument:
		return true
	}
	return false
}

// ParseKind 解析类型字符串（兼容 "documents" 复数写法）
func ParseKind(s string) (Kind, error) {
	if s == "documents" {
		return KindDocument, nil
	}
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown source kind %q", s)
	}
	return k, nil
}

// Status Job 状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

// IsTerminal completed / failed 之后不再有任何变更
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Source 一份用户提交的内容；创建后不可变，仅随用户或内容删除而级联删除
type Source struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Locator     string    `json:"locator"` // YouTube 为原始链接，上传内容为对象存储 key
	Name        string    `json:"name,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Duration    *float64  `json:"duration,omitempty"` // 秒
	Size        *int64    `json:"size,omitempty"`     // 字节
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Job 一个 Source 的异步处理任务；只由当前持有租约的 Worker 修改
type Job struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"current_step,omitempty"`
	Error       string    `json:"error,omitempty"`
	RetryCount  int       `json:"retry_count"`
	ArtifactRef string    `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewSourceID 生成 Source ID
func NewSourceID() string { return "src-" + uuid.New().String() }

// NewJobID 生成 Job ID
func NewJobID() string { return "job-" + uuid.New().String() }

// NewQueued 为 src 构造一个初始 Job（queued, progress 0）
func NewQueued(src *Source, now time.Time) *Job {
	return &Job{
		ID:        NewJobID(),
		SourceID:  src.ID,
		Kind:      src.Kind,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// laterOf updated_at 单调不减
func laterOf(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
