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

package redaction

import (
	"fmt"
	"regexp"
)

// RedactionMode 脱敏模式
type RedactionMode string

const (
	RedactionModeRedact RedactionMode = "redact" // 替换为 "***REDACTED***"
	RedactionModeHash   RedactionMode = "hash"   // 替换为 SHA256 前缀
	RedactionModeRemove RedactionMode = "remove" // 只保留前缀
)

// Rule 一条文本脱敏规则；Pattern 须含两个分组：保留的前缀与要替换的敏感值
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Mode    RedactionMode
	Salt    string // Hash 模式的 salt（可选）
}

// RedactionPolicy 按顺序应用的规则集合
type RedactionPolicy struct {
	Rules []Rule
}

// RuleConfig 配置文件中的规则
type RuleConfig struct {
	Name    string        `mapstructure:"name"`
	Pattern string        `mapstructure:"pattern"`
	Mode    RedactionMode `mapstructure:"mode"`
	Salt    string        `mapstructure:"salt"`
}

// DefaultPolicy 覆盖错误信息里最常见的凭据：URL userinfo、签名/令牌查询参数、Bearer 头
func DefaultPolicy() *RedactionPolicy {
	return &RedactionPolicy{Rules: []Rule{
		{
			Name:    "url_userinfo",
			Pattern: regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)([^/\s@]+)@`),
			Mode:    RedactionModeRedact,
		},
		{
			Name:    "query_secret",
			Pattern: regexp.MustCompile(`(?i)([?&](?:token|access_token|api_key|apikey|key|sig|signature|x-amz-signature|x-amz-credential|x-amz-security-token)=)([^&\s"']+)`),
			Mode:    RedactionModeRedact,
		},
		{
			Name:    "bearer",
			Pattern: regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
			Mode:    RedactionModeRedact,
		},
	}}
}

// LoadPolicy 在默认规则之后追加配置中的规则
func LoadPolicy(extra []RuleConfig) (*RedactionPolicy, error) {
	policy := DefaultPolicy()
	for _, rc := range extra {
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction rule %q: %w", rc.Name, err)
		}
		if re.NumSubexp() != 2 {
			return nil, fmt.Errorf("redaction rule %q: pattern needs exactly 2 groups, got %d", rc.Name, re.NumSubexp())
		}
		mode := rc.Mode
		if mode == "" {
			mode = RedactionModeRedact
		}
		policy.Rules = append(policy.Rules, Rule{Name: rc.Name, Pattern: re, Mode: mode, Salt: rc.Salt})
	}
	return policy, nil
}
