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


// Package dispatcher 接收提交：校验、在同一事务内写入 Source 与 Job，提交后入队
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"notes-platform/internal/job"
	"notes-platform/internal/storage/object"
	"notes-platform/internal/taskqueue"
	perrors "notes-platform/pkg/errors"
	"notes-platform/pkg/log"
	"notes-platform/pkg/metrics"
	"notes-platform/pkg/tracing"
	"notes-platform/pkg/utils"
)

const (
	DefaultMaxAudioBytes    int64 = 25 << 20
	DefaultMaxDocumentBytes int64 = 50 << 20
)

// Limits 上传大小上限
type Limits struct {
	MaxAudioBytes    int64
	MaxDocumentBytes int64
}

func (l Limits) withDefaults() Limits {
	l.MaxAudioBytes = utils.PositiveInt64(l.MaxAudioBytes, DefaultMaxAudioBytes)
	l.MaxDocumentBytes = utils.PositiveInt64(l.MaxDocumentBytes, DefaultMaxDocumentBytes)
	return l
}

// Submission 一次提交的内容描述；上传类内容的 Locator 为内容存储键
type Submission struct {
	Kind        job.Kind
	Locator     string
	Name        string
	ContentType string
	Size        *int64
	Duration    *float64
}

// Upload 上传类提交（audio / document）；Size 为客户端声明的大小，未知时 <= 0
type Upload struct {
	Kind        job.Kind
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Dispatcher 提交入口
type Dispatcher struct {
	store   job.Store
	queue   taskqueue.Queue
	content *object.ContentStore
	limits  Limits
	logger  *log.Logger
	now     func() time.Time

	artifacts ArtifactCleaner
}

// ArtifactCleaner 删除某个 Source 的产物
type ArtifactCleaner interface {
	DeleteSource(ctx context.Context, sourceID string) error
}

// SetArtifactCleaner 删除 Source 时一并清理产物
func (d *Dispatcher) SetArtifactCleaner(c ArtifactCleaner) { d.artifacts = c }

// New 创建 Dispatcher；content 为空时不接受上传类提交
func New(store job.Store, queue taskqueue.Queue, content *object.ContentStore, limits Limits, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		store:   store,
		queue:   queue,
		content: content,
		limits:  limits.withDefaults(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Limits 当前生效的上传上限
func (d *Dispatcher) Limits() Limits { return d.limits }

func invalid(field, msg string) error {
	return &perrors.ValidationError{Field: field, Message: msg}
}

func tooLarge(field string, limit int64) error {
	return &perrors.ValidationError{Field: field, Message: fmt.Sprintf("exceeds limit of %d bytes", limit), TooLarge: true}
}

// Submit 写入 Source 与 QUEUED Job 后入队。入队失败不影响提交结果：
// Job 保持 QUEUED，由对账扫描补发。
func (d *Dispatcher) Submit(ctx context.Context, sub Submission, userID string) (j *job.Job, err error) {
	ctx, span := tracing.StartSubmitSpan(ctx, string(sub.Kind), userID)
	defer func() { tracing.EndSpan(span, err) }()

	if err := d.validate(sub, userID); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(sub.Kind), "invalid").Inc()
		return nil, err
	}
	now := d.now()
	src := &job.Source{
		ID:          job.NewSourceID(),
		Kind:        sub.Kind,
		Locator:     sub.Locator,
		Name:        sub.Name,
		ContentType: sub.ContentType,
		Duration:    sub.Duration,
		Size:        sub.Size,
		UserID:      userID,
		CreatedAt:   now,
	}
	j = job.NewQueued(src, now)
	if err := d.store.CreateWithSource(ctx, src, j); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(sub.Kind), "persist_error").Inc()
		return nil, &perrors.PersistenceError{Op: "create source and job", Err: err}
	}
	metrics.SubmissionsTotal.WithLabelValues(string(sub.Kind), "accepted").Inc()

	if _, err := d.queue.Enqueue(ctx, j.ID, 0); err != nil {
		metrics.EnqueueFailuresTotal.Inc()
		orphan := &perrors.OrphanedJobError{JobID: j.ID, Err: err}
		d.logger.Warn("job committed but not enqueued; left for reconciliation", "job_id", j.ID, "error", orphan)
	}
	d.logger.Info("job submitted", "job_id", j.ID, "source_id", src.ID, "kind", src.Kind, "user_id", userID)
	return j, nil
}

// validate 校验提交；上传类内容的声明大小按 kind 对应的上限检查，超限不写入任何记录
func (d *Dispatcher) validate(sub Submission, userID string) error {
	if userID == "" {
		return invalid("user_id", "is required")
	}
	if !sub.Kind.Valid() {
		return invalid("kind", fmt.Sprintf("unknown kind %q", sub.Kind))
	}
	if strings.TrimSpace(sub.Locator) == "" {
		return invalid("locator", "is required")
	}
	if sub.Size != nil && *sub.Size < 0 {
		return invalid("size", "must not be negative")
	}
	if sub.Duration != nil && *sub.Duration < 0 {
		return invalid("duration", "must not be negative")
	}
	if sub.Size != nil {
		if limit := d.sizeLimit(sub.Kind); limit > 0 && *sub.Size > limit {
			return tooLarge("size", limit)
		}
	}
	return nil
}

// sizeLimit kind 对应的字节上限；youtube 不限
func (d *Dispatcher) sizeLimit(kind job.Kind) int64 {
	switch kind {
	case job.KindAudio:
		return d.limits.MaxAudioBytes
	case job.KindDocument:
		return d.limits.MaxDocumentBytes
	}
	return 0
}

// SubmitUpload 校验类型与大小后写入内容存储，再走 Submit。超限内容在写入任何记录之前被拒绝。
func (d *Dispatcher) SubmitUpload(ctx context.Context, up Upload, userID string) (*job.Job, error) {
	if d.content == nil {
		return nil, invalid("kind", "uploads are not enabled")
	}
	if userID == "" {
		return nil, invalid("user_id", "is required")
	}
	var limit int64
	switch up.Kind {
	case job.KindAudio:
		if !strings.HasPrefix(up.ContentType, "audio/") {
			return nil, invalid("content_type", fmt.Sprintf("%q is not an audio type", up.ContentType))
		}
		limit = d.limits.MaxAudioBytes
	case job.KindDocument:
		if !strings.HasPrefix(up.ContentType, "application/") && !strings.HasPrefix(up.ContentType, "text/") {
			return nil, invalid("content_type", fmt.Sprintf("%q is not a document type", up.ContentType))
		}
		limit = d.limits.MaxDocumentBytes
	default:
		return nil, invalid("kind", fmt.Sprintf("%q does not accept uploads", up.Kind))
	}
	if up.Body == nil {
		return nil, invalid("file", "is required")
	}
	if up.Size > limit {
		metrics.SubmissionsTotal.WithLabelValues(string(up.Kind), "invalid").Inc()
		return nil, tooLarge("file", limit)
	}

	stored, err := d.content.Upload(ctx, userID, up.Name, up.ContentType, up.Body, limit)
	if err != nil {
		if errors.Is(err, object.ErrTooLarge) {
			metrics.SubmissionsTotal.WithLabelValues(string(up.Kind), "invalid").Inc()
			return nil, tooLarge("file", limit)
		}
		metrics.SubmissionsTotal.WithLabelValues(string(up.Kind), "storage_error").Inc()
		return nil, &perrors.StorageError{Op: "upload", Err: err}
	}
	size := stored.Size
	j, err := d.Submit(ctx, Submission{
		Kind:        up.Kind,
		Locator:     stored.Key,
		Name:        up.Name,
		ContentType: up.ContentType,
		Size:        &size,
	}, userID)
	if err != nil {
		// 记录未写入，上传内容不再有引用
		if derr := d.content.Delete(context.WithoutCancel(ctx), stored.Key); derr != nil {
			d.logger.Warn("failed to remove unreferenced upload", "key", stored.Key, "error", derr)
		}
		return nil, err
	}
	return j, nil
}

// SubmitYouTube 校验链接并提交；Source.Name 为视频 id
func (d *Dispatcher) SubmitYouTube(ctx context.Context, link, userID string) (*job.Job, error) {
	id, err := YouTubeVideoID(link)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(job.KindYouTube), "invalid").Inc()
		return nil, err
	}
	return d.Submit(ctx, Submission{Kind: job.KindYouTube, Locator: strings.TrimSpace(link), Name: id}, userID)
}

// YouTubeVideoID 只接受 https://youtu.be/<id> 与 https://www.youtube.com/...?v=<id>
func YouTubeVideoID(link string) (string, error) {
	link = strings.TrimSpace(link)
	if !strings.HasPrefix(link, "https://youtu.be") && !strings.HasPrefix(link, "https://www.youtube.com") {
		return "", invalid("link", "must start with https://youtu.be or https://www.youtube.com")
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", invalid("link", err.Error())
	}
	var id string
	switch u.Host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "www.youtube.com":
		id = u.Query().Get("v")
	default:
		return "", invalid("link", fmt.Sprintf("unexpected host %q", u.Host))
	}
	if id == "" || strings.ContainsAny(id, "/?&=% ") {
		return "", invalid("link", "missing video id")
	}
	return id, nil
}

// DeleteSource 删除用户的 Source 及其 Job（级联），随后尽力清理上传内容与产物。
// 不存在或属于其他用户时返回 job.ErrSourceNotFound。
func (d *Dispatcher) DeleteSource(ctx context.Context, userID, sourceID string) error {
	src, err := d.store.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if src.UserID != userID {
		return job.ErrSourceNotFound
	}
	if err := d.store.DeleteSource(ctx, sourceID); err != nil {
		if errors.Is(err, job.ErrSourceNotFound) {
			return err
		}
		return &perrors.PersistenceError{Op: "delete source", Err: err}
	}
	if d.content != nil && src.Kind != job.KindYouTube {
		if err := d.content.Delete(ctx, src.Locator); err != nil {
			d.logger.Warn("failed to remove uploaded content", "source_id", sourceID, "key", src.Locator, "error", err)
		}
	}
	if d.artifacts != nil {
		if err := d.artifacts.DeleteSource(ctx, sourceID); err != nil {
			d.logger.Warn("failed to remove artifacts", "source_id", sourceID, "error", err)
		}
	}
	d.logger.Info("source deleted", "source_id", sourceID, "user_id", userID)
	return nil
}
