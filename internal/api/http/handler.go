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

package http

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"notes-platform/internal/api/http/middleware"
	"notes-platform/internal/dispatcher"
	"notes-platform/internal/job"
	"notes-platform/internal/status"
	perrors "notes-platform/pkg/errors"
	"notes-platform/pkg/log"
	"notes-platform/pkg/metrics"
)

// Handler HTTP 处理器
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	reporter   *status.Reporter
	logger     *log.Logger
}

// NewHandler 创建新的 HTTP 处理器
func NewHandler(d *dispatcher.Dispatcher, r *status.Reporter, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Handler{dispatcher: d, reporter: r, logger: logger}
}

// SubmitResponse 提交成功（201）的响应体
type SubmitResponse struct {
	JobID    string     `json:"job_id"`
	SourceID string     `json:"source_id"`
	Status   job.Status `json:"status"`
}

func submitted(c *app.RequestContext, j *job.Job) {
	c.JSON(consts.StatusCreated, SubmitResponse{JobID: j.ID, SourceID: j.SourceID, Status: j.Status})
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "notes-api",
	})
}

type youtubeRequest struct {
	Link string `json:"link"`
}

// SubmitYouTube POST /api/sources/youtube
func (h *Handler) SubmitYouTube(ctx context.Context, c *app.RequestContext) {
	var req youtubeRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	j, err := h.dispatcher.SubmitYouTube(ctx, req.Link, middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	submitted(c, j)
}

// SubmitAudio POST /api/sources/audio（multipart 字段 file）
func (h *Handler) SubmitAudio(ctx context.Context, c *app.RequestContext) {
	h.submitUpload(ctx, c, job.KindAudio)
}

// SubmitDocument POST /api/sources/documents（multipart 字段 file）
func (h *Handler) SubmitDocument(ctx context.Context, c *app.RequestContext) {
	h.submitUpload(ctx, c, job.KindDocument)
}

func (h *Handler) submitUpload(ctx context.Context, c *app.RequestContext, kind job.Kind) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "multipart field \"file\" is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.writeError(c, &perrors.StorageError{Op: "open upload", Err: err})
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	j, err := h.dispatcher.SubmitUpload(ctx, dispatcher.Upload{
		Kind:        kind,
		Name:        fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Body:        f,
	}, middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	submitted(c, j)
}

// GetJob GET /api/jobs/:id
func (h *Handler) GetJob(ctx context.Context, c *app.RequestContext) {
	snap, err := h.reporter.GetForUser(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, snap)
}

// DeleteSource DELETE /api/sources/:id
func (h *Handler) DeleteSource(ctx context.Context, c *app.RequestContext) {
	if err := h.dispatcher.DeleteSource(ctx, middleware.UserID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(consts.StatusNoContent)
}

// Metrics GET /metrics，Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.String(consts.StatusInternalServerError, "%v", err)
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// writeError 错误类型到 HTTP 状态码的映射
func (h *Handler) writeError(c *app.RequestContext, err error) {
	code := consts.StatusInternalServerError
	msg := "internal error"
	var ve *perrors.ValidationError
	var se *perrors.StorageError
	var pe *perrors.PersistenceError
	switch {
	case errors.As(err, &ve):
		code = consts.StatusBadRequest
		if ve.TooLarge {
			code = consts.StatusRequestEntityTooLarge
		}
		msg = ve.Error()
	case errors.Is(err, job.ErrJobNotFound):
		code, msg = consts.StatusNotFound, "job not found"
	case errors.Is(err, job.ErrSourceNotFound):
		code, msg = consts.StatusNotFound, "source not found"
	case errors.As(err, &se):
		code, msg = consts.StatusBadGateway, "content storage unavailable"
	case errors.As(err, &pe):
		msg = "failed to persist request"
	}
	if code >= 500 {
		h.logger.Error("request failed", "path", string(c.Path()), "status", code, "error", err)
	}
	c.JSON(code, map[string]string{"error": msg})
}
