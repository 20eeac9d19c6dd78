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

package grpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"notes-platform/pkg/auth"
)

// UserIDMetadata 未配置 JWT 密钥时信任的用户元数据（仅开发环境）
const UserIDMetadata = "x-user-id"

// AuthInterceptor 从 authorization 元数据解析用户（与 HTTP 相同的 HS256 JWT，claim user_id）。
// jwtKey 为空时改读 x-user-id。健康检查不需要认证。
func AuthInterceptor(jwtKey []byte) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var userID string
		var err error
		if len(jwtKey) > 0 {
			userID, err = userFromToken(jwtKey, first(md, "authorization"))
		} else {
			userID = strings.TrimSpace(first(md, UserIDMetadata))
		}
		if err != nil || userID == "" {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return handler(auth.WithUserID(ctx, userID), req)
	}
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func userFromToken(key []byte, header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("missing bearer token")
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	id, _ := claims[auth.IdentityKey].(string)
	return id, nil
}
