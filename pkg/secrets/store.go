// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSecretNotFound secret 不存在
var ErrSecretNotFound = errors.New("secret not found")

// Store Secret 只读接口（JWT 签名密钥、存储凭证等）
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string // vault | env | memory
	Vault    VaultConfig
}

// NewStore 创建 Secret Store；Provider 为空时使用 env
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(nil), nil
	case "vault":
		return NewVaultStore(config.Vault)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

// RefPrefix 配置值以此开头时，其余部分作为 secret 键从 Store 读取
const RefPrefix = "secret://"

// Resolve 解析配置中的 secret 引用；普通值原样返回
func Resolve(ctx context.Context, s Store, value string) (string, error) {
	key, ok := strings.CutPrefix(value, RefPrefix)
	if !ok {
		return value, nil
	}
	if s == nil {
		return "", fmt.Errorf("%w: no secret store for %s", ErrSecretNotFound, key)
	}
	return s.Get(ctx, key)
}

// GetOrDefault 读取 secret，不存在或出错时返回 def
func GetOrDefault(ctx context.Context, s Store, key, def string) string {
	if s == nil || key == "" {
		return def
	}
	v, err := s.Get(ctx, key)
	if err != nil || v == "" {
		return def
	}
	return v
}
