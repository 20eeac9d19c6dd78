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
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"notes-platform/internal/api/http/middleware"
)

// bodyOverhead multipart 编码在文件内容之外的余量
const bodyOverhead = 1 << 20

// Router HTTP 路由器
type Router struct {
	handler     *Handler
	middleware  *middleware.Middleware
	maxBodySize int
}

// NewRouter 创建新的 HTTP 路由器；maxUpload 为最大的上传上限（字节）
func NewRouter(handler *Handler, mw *middleware.Middleware, maxUpload int64) *Router {
	return &Router{handler: handler, middleware: mw, maxBodySize: int(maxUpload) + bodyOverhead}
}

// Build 创建 Hertz 实例并注册路由；超过请求体上限的请求由 Hertz 直接以 413 拒绝
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{
		server.WithHostPorts(addr),
		server.WithMaxRequestBodySize(r.maxBodySize),
	}, opts...)
	h := server.Default(opts...)
	r.register(h)
	return h
}

func (r *Router) register(h *server.Hertz) {
	h.Use(r.middleware.AccessLog(), r.middleware.CORS())
	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)

	user := r.middleware.RequireUser()
	sources := api.Group("/sources", user)
	{
		sources.POST("/youtube", r.handler.SubmitYouTube)
		sources.POST("/audio", r.handler.SubmitAudio)
		sources.POST("/documents", r.handler.SubmitDocument)
		sources.DELETE("/:id", r.handler.DeleteSource)
	}
	jobs := api.Group("/jobs", user)
	{
		jobs.GET("/:id", r.handler.GetJob)
	}
}
