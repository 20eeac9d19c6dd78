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

// Package status 只读地报告 Job 的当前快照
package status

import (
	"context"
	"errors"
	"time"

	"notes-platform/internal/job"
)

// Snapshot 对外暴露的 Job 状态
type Snapshot struct {
	JobID       string     `json:"job_id"`
	SourceID    string     `json:"source_id"`
	Kind        job.Kind   `json:"kind"`
	Status      job.Status `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	ArtifactRef string     `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func fromJob(j *job.Job) *Snapshot {
	return &Snapshot{
		JobID:       j.ID,
		SourceID:    j.SourceID,
		Kind:        j.Kind,
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Error:       j.Error,
		RetryCount:  j.RetryCount,
		ArtifactRef: j.ArtifactRef,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// Reporter 从 Store 读取 Job，不做任何写入
type Reporter struct {
	store job.Store
}

// NewReporter 创建 Reporter
func NewReporter(store job.Store) *Reporter {
	return &Reporter{store: store}
}

// Get 返回 Job 快照；不存在时返回 job.ErrJobNotFound
func (r *Reporter) Get(ctx context.Context, jobID string) (*Snapshot, error) {
	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return fromJob(j), nil
}

// GetForUser 同 Get，但属于其他用户的 Job 视为不存在
func (r *Reporter) GetForUser(ctx context.Context, jobID, userID string) (*Snapshot, error) {
	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	src, err := r.store.GetSource(ctx, j.SourceID)
	if errors.Is(err, job.ErrSourceNotFound) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if src.UserID != userID {
		return nil, job.ErrJobNotFound
	}
	return fromJob(j), nil
}
