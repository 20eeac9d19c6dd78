// Copyright 2026 fanjia1024
// HashiCorp Vault secret store

package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig Vault 配置
type VaultConfig struct {
	Address    string // Vault server address (e.g., http://vault:8200)
	Token      string // Vault token
	PathPrefix string // KV v2 mount (e.g., "secret")
}

type vaultStore struct {
	client *vault.Client
	mount  string
}

// NewVaultStore 创建 Vault secret store（KV v2）
func NewVaultStore(config VaultConfig) (Store, error) {
	if config.Address == "" {
		config.Address = "http://localhost:8200"
	}

	cfg := vault.DefaultConfig()
	cfg.Address = config.Address

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if config.Token != "" {
		client.SetToken(config.Token)
	}
	if _, err := client.Sys().Health(); err != nil {
		return nil, fmt.Errorf("failed to connect to vault: %w", err)
	}

	mount := "secret"
	if config.PathPrefix != "" {
		mount = config.PathPrefix
	}
	return &vaultStore{client: client, mount: mount}, nil
}

// Get 读取 <mount>/<path> 的字段；key 形如 "path#field"，省略 field 时取 "value"，
// 再退回到唯一的字符串字段
func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	path, field, hasField := strings.Cut(key, "#")
	secret, err := v.client.KVv2(v.mount).Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: vault %s", ErrSecretNotFound, path)
	}
	return pickField(secret.Data, path, field, hasField)
}

func pickField(data map[string]interface{}, path, field string, explicit bool) (string, error) {
	if !explicit {
		field = "value"
	}
	if s, ok := data[field].(string); ok {
		return s, nil
	}
	if explicit {
		return "", fmt.Errorf("%w: vault %s#%s", ErrSecretNotFound, path, field)
	}
	var only string
	n := 0
	for _, val := range data {
		if s, ok := val.(string); ok {
			only = s
			n++
		}
	}
	if n == 1 {
		return only, nil
	}
	return "", fmt.Errorf("%w: vault %s needs an explicit #field", ErrSecretNotFound, path)
}
