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


package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue go-redis 实现；每个操作都是一段 Lua 脚本，保证原子性
//
// 键布局（prefix 默认 "notes:queue"）：
//
//	<prefix>:ready    LIST  可立即投递的 job id
//	<prefix>:delayed  ZSET  score = 可见时间（毫秒）
//	<prefix>:leased   ZSET  score = 租约到期时间（毫秒）
//	<prefix>:tasks    HASH  job id -> Task JSON，存在即表示在队列中
//	<prefix>:tokens   HASH  job id -> 当前租约 token
type RedisQueue struct {
	client redis.UniversalClient
	opts   Options
	keys   []string
	closed chan struct{}
	once   sync.Once
}

const DefaultRedisPrefix = "notes:queue"

var enqueueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[4], ARGV[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[4], ARGV[1], ARGV[2])
local delay = tonumber(ARGV[3])
if delay > 0 then
  redis.call('ZADD', KEYS[2], tonumber(ARGV[4]) + delay, ARGV[1])
else
  redis.call('RPUSH', KEYS[1], ARGV[1])
end
return 1
`)

var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('RPUSH', KEYS[1], id)
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('HDEL', KEYS[5], id)
  redis.call('RPUSH', KEYS[1], id)
end
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then
    return false
  end
  local raw = redis.call('HGET', KEYS[4], id)
  if raw then
    local task = cjson.decode(raw)
    task['attempts'] = (tonumber(task['attempts']) or 0) + 1
    local encoded = cjson.encode(task)
    redis.call('HSET', KEYS[4], id, encoded)
    redis.call('ZADD', KEYS[3], now + tonumber(ARGV[2]), id)
    redis.call('HSET', KEYS[5], id, ARGV[3])
    return encoded
  end
end
`)

// 租约校验：token 一致且未过期
const leaseCheck = `
if redis.call('HGET', KEYS[5], ARGV[1]) ~= ARGV[2] then
  return 0
end
local until_ms = redis.call('ZSCORE', KEYS[3], ARGV[1])
if not until_ms or tonumber(until_ms) <= tonumber(ARGV[3]) then
  return 0
end
`

var ackScript = redis.NewScript(leaseCheck + `
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1
`)

var nackScript = redis.NewScript(leaseCheck + `
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
local delay = tonumber(ARGV[4])
if delay > 0 then
  redis.call('ZADD', KEYS[2], tonumber(ARGV[3]) + delay, ARGV[1])
else
  redis.call('RPUSH', KEYS[1], ARGV[1])
end
return 1
`)

var extendScript = redis.NewScript(leaseCheck + `
redis.call('ZADD', KEYS[3], tonumber(ARGV[3]) + tonumber(ARGV[4]), ARGV[1])
return 1
`)

// NewRedisQueue 使用已有 client 创建队列；prefix 为空时使用默认值
func NewRedisQueue(client redis.UniversalClient, prefix string, opts Options) *RedisQueue {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisQueue{
		client: client,
		opts:   opts.withDefaults(),
		keys: []string{
			prefix + ":ready",
			prefix + ":delayed",
			prefix + ":leased",
			prefix + ":tasks",
			prefix + ":tokens",
		},
		closed: make(chan struct{}),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) (bool, error) {
	raw, err := json.Marshal(Task{JobID: jobID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return false, err
	}
	n, err := enqueueScript.Run(ctx, q.client, q.keys, jobID, raw, delay.Milliseconds(), nowMillis()).Int()
	if err != nil {
		return false, fmt.Errorf("redis enqueue %s: %w", jobID, err)
	}
	return n == 1, nil
}

func (q *RedisQueue) claim(ctx context.Context) (*Delivery, error) {
	token := uuid.New().String()
	now := nowMillis()
	raw, err := claimScript.Run(ctx, q.client, q.keys, now, q.opts.LeaseDuration.Milliseconds(), token).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis claim: %w", err)
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &Delivery{
		Task:       t,
		Token:      token,
		LeaseUntil: time.UnixMilli(now).Add(q.opts.LeaseDuration),
	}, nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		select {
		case <-q.closed:
			return nil, ErrClosed
		default:
		}
		d, err := q.claim(ctx)
		if err != nil || d != nil {
			return d, err
		}
		if err := sleepCtx(ctx, q.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *RedisQueue) runLease(ctx context.Context, script *redis.Script, d *Delivery, extra int64) error {
	n, err := script.Run(ctx, q.client, q.keys, d.JobID, d.Token, nowMillis(), extra).Int()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrLeaseLost
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.runLease(ctx, ackScript, d, 0)
}

func (q *RedisQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	return q.runLease(ctx, nackScript, d, delay.Milliseconds())
}

func (q *RedisQueue) Extend(ctx context.Context, d *Delivery) error {
	if err := q.runLease(ctx, extendScript, d, q.opts.LeaseDuration.Milliseconds()); err != nil {
		return err
	}
	d.LeaseUntil = time.Now().Add(q.opts.LeaseDuration)
	return nil
}

func (q *RedisQueue) Contains(ctx context.Context, jobID string) (bool, error) {
	return q.client.HExists(ctx, q.keys[3], jobID).Result()
}

// Close 停止 Receive；client 由调用方关闭
func (q *RedisQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

var _ Queue = (*RedisQueue)(nil)
