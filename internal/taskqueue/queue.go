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


// Package taskqueue 持久化任务队列：按 job id 去重，至少一次投递，租约超时后重新投递
package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLeaseLost 租约已过期或已被其他投递取代
	ErrLeaseLost = errors.New("taskqueue: lease lost")
	// ErrClosed 队列已关闭
	ErrClosed = errors.New("taskqueue: closed")
)

// Task 队列中的一条任务；载荷只有 job id，Job 本身存于 job.Store
type Task struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// Delivery 一次投递：Token 标识本次租约，Ack / Nack / Extend 必须携带
type Delivery struct {
	Task
	Token      string
	LeaseUntil time.Time
}

// Queue 任务队列
type Queue interface {
	// Enqueue 入队，delay 后可见；job id 已在队列中（待投递、延迟或租约中）时返回 false
	Enqueue(ctx context.Context, jobID string, delay time.Duration) (bool, error)
	// Receive 阻塞直到有可投递任务或 ctx 结束
	Receive(ctx context.Context) (*Delivery, error)
	// Ack 确认并删除任务
	Ack(ctx context.Context, d *Delivery) error
	// Nack 释放租约，delay 后重新可见
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error
	// Extend 心跳：把租约延长一个 LeaseDuration
	Extend(ctx context.Context, d *Delivery) error
	// Contains job id 是否仍在队列中
	Contains(ctx context.Context, jobID string) (bool, error)
	Close() error
}

// Options 各实现共用的参数
type Options struct {
	LeaseDuration time.Duration
	PollInterval  time.Duration
}

const (
	DefaultLeaseDuration = 30 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = DefaultLeaseDuration
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// sleepCtx 等待 d 或 ctx 结束
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
