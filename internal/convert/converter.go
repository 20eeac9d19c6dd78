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

// Package convert 各类内容到规范化文本的转换；转换以惰性检查点序列的形式汇报进度
package convert

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"golang.org/x/time/rate"

	"notes-platform/internal/job"
	perrors "notes-platform/pkg/errors"
)

// Output 转换结果
type Output struct {
	Title  string
	Text   string
	Format string // markdown | text
}

// Checkpoint 一个进度检查点；最后一个检查点携带 Output
type Checkpoint struct {
	Percent int
	Step    string
	Output  *Output
}

// Converter 把一个 Source 转换为文本；返回的序列有限且只能消费一次。
// 实现应在 ctx 结束后尽快返回。不检查 ctx 的实现仍会按超时失败，但其 goroutine 要到下一次交出检查点才退出。
type Converter interface {
	Convert(ctx context.Context, src *job.Source) iter.Seq2[Checkpoint, error]
}

// ConverterFunc 函数适配为 Converter
type ConverterFunc func(ctx context.Context, src *job.Source) iter.Seq2[Checkpoint, error]

func (f ConverterFunc) Convert(ctx context.Context, src *job.Source) iter.Seq2[Checkpoint, error] {
	return f(ctx, src)
}

// Limit 单类转换的调用速率
type Limit struct {
	QPS   float64
	Burst int
}

// Registry kind -> Converter；注册时按 Limit 包一层令牌桶限流
type Registry struct {
	mu         sync.RWMutex
	converters map[job.Kind]Converter
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{converters: make(map[job.Kind]Converter)}
}

// Register 注册转换器；limit.QPS <= 0 表示不限流
func (r *Registry) Register(kind job.Kind, c Converter, limit Limit) {
	if limit.QPS > 0 {
		burst := limit.Burst
		if burst < 1 {
			burst = 1
		}
		c = &limited{next: c, limiter: rate.NewLimiter(rate.Limit(limit.QPS), burst)}
	}
	r.mu.Lock()
	r.converters[kind] = c
	r.mu.Unlock()
}

// Get 取 kind 对应的转换器；未注册时返回永久错误
func (r *Registry) Get(kind job.Kind) (Converter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[kind]
	if !ok {
		return nil, perrors.Permanent(fmt.Errorf("no converter registered for kind %q", kind))
	}
	return c, nil
}

type limited struct {
	next    Converter
	limiter *rate.Limiter
}

func (l *limited) Convert(ctx context.Context, src *job.Source) iter.Seq2[Checkpoint, error] {
	return func(yield func(Checkpoint, error) bool) {
		if err := l.limiter.Wait(ctx); err != nil {
			yield(Checkpoint{}, perrors.Transient(fmt.Errorf("rate limit wait: %w", err)))
			return
		}
		for cp, err := range l.next.Convert(ctx, src) {
			if !yield(cp, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// Collect 消费整个序列，返回最终 Output；测试与 CLI 调试用
func Collect(seq iter.Seq2[Checkpoint, error]) ([]Checkpoint, *Output, error) {
	var cps []Checkpoint
	var out *Output
	for cp, err := range seq {
		if err != nil {
			return cps, nil, err
		}
		cps = append(cps, cp)
		if cp.Output != nil {
			out = cp.Output
		}
	}
	if out == nil {
		return cps, nil, perrors.Permanent(errors.New("conversion produced no output"))
	}
	return cps, out, nil
}
