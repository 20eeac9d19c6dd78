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

// Package redaction 在错误信息与日志写入前抹去其中的凭据
package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
)

const redacted = "***REDACTED***"

type Engine struct {
	policy *RedactionPolicy
}

func NewEngine(policy *RedactionPolicy) *Engine {
	return &Engine{policy: policy}
}

var defaultEngine atomic.Pointer[Engine]

func init() {
	defaultEngine.Store(NewEngine(DefaultPolicy()))
}

// Default 进程级引擎，Job 错误信息落库前经过它
func Default() *Engine { return defaultEngine.Load() }

// SetDefault 替换进程级引擎（启动时按配置调用一次）
func SetDefault(e *Engine) {
	if e != nil {
		defaultEngine.Store(e)
	}
}

// RedactString 依次应用规则
func (e *Engine) RedactString(s string) string {
	if e == nil || e.policy == nil || s == "" {
		return s
	}
	for _, rule := range e.policy.Rules {
		rule := rule
		s = rule.Pattern.ReplaceAllStringFunc(s, func(m string) string {
			sub := rule.Pattern.FindStringSubmatch(m)
			if len(sub) < 3 {
				return m
			}
			return sub[1] + e.mask(rule, sub[2])
		})
	}
	return s
}

func (e *Engine) mask(rule Rule, value string) string {
	switch rule.Mode {
	case RedactionModeHash:
		return hashValue(value, rule.Salt)
	case RedactionModeRemove:
		return ""
	default:
		return redacted
	}
}

func hashValue(value string, salt string) string {
	h := sha256.New()
	h.Write([]byte(value))
	if salt != "" {
		h.Write([]byte(salt))
	}
	return "hash:" + hex.EncodeToString(h.Sum(nil))[:16]
}
