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

// Package middleware HTTP 中间件：用户身份解析、访问日志、CORS
package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"

	"notes-platform/pkg/auth"
	"notes-platform/pkg/log"
)

// IdentityKey JWT 中标识用户的 claim，也是 RequestContext 中保存用户 ID 的键
const IdentityKey = auth.IdentityKey

// UserHeader 未启用 JWT 时信任的用户头（仅开发环境）
const UserHeader = "X-User-ID"

// Middleware 中间件管理器
type Middleware struct {
	jwt    *jwt.HertzJWTMiddleware
	logger *log.Logger
}

// NewMiddleware 创建中间件管理器；jwtAuth 为 nil 时从 X-User-ID 头读取用户
func NewMiddleware(jwtAuth *jwt.HertzJWTMiddleware, logger *log.Logger) *Middleware {
	if logger == nil {
		logger = log.Nop()
	}
	return &Middleware{jwt: jwtAuth, logger: logger}
}

// NewJWTAuth 创建 HS256 JWT 中间件，身份取自 user_id claim
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	if len(key) == 0 {
		return nil, errors.New("jwt key is empty")
	}
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:            "notes",
		SigningAlgorithm: "HS256",
		Key:              key,
		Timeout:          timeout,
		MaxRefresh:       maxRefresh,
		IdentityKey:      IdentityKey,
		TokenLookup:      "header: Authorization",
		TokenHeadName:    "Bearer",
		TimeFunc:         time.Now,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if id, ok := data.(string); ok {
				return jwt.MapClaims{IdentityKey: id}
			}
			return jwt.MapClaims{}
		},
		Authorizator: func(data interface{}, ctx context.Context, c *app.RequestContext) bool {
			id, ok := data.(string)
			if !ok || strings.TrimSpace(id) == "" {
				return false
			}
			c.Set(IdentityKey, id)
			return true
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			// 认证失败一律 401，不区分无效令牌与身份缺失
			c.JSON(consts.StatusUnauthorized, map[string]string{"error": message})
		},
	})
}

// RequireUser 解析请求用户；失败时 401
func (m *Middleware) RequireUser() app.HandlerFunc {
	if m.jwt != nil {
		return m.jwt.MiddlewareFunc()
	}
	return func(ctx context.Context, c *app.RequestContext) {
		id := strings.TrimSpace(string(c.GetHeader(UserHeader)))
		if id == "" {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		c.Set(IdentityKey, id)
		c.Next(ctx)
	}
}

// UserID 当前请求的用户；未经过 RequireUser 时为空
func UserID(c *app.RequestContext) string {
	return c.GetString(IdentityKey)
}

// AccessLog 记录每个请求的方法、路径、状态与耗时
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		m.logger.Info("http request",
			"method", string(c.Method()),
			"path", string(c.Path()),
			"status", c.Response.StatusCode(),
			"latency", time.Since(start),
			"user_id", UserID(c),
		)
	}
}

// CORS 允许跨域访问 API
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Authorization, X-User-ID")
		c.Header("Access-Control-Max-Age", "86400")
		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}
