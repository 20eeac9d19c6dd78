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

package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Locker 对账扫描的主节点锁；多个进程中同一时刻只有一个持有者
type Locker interface {
	// TryLock 尝试获取或续期锁，返回当前是否持有
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// NoopLocker 单进程（内存模式）下总是持有
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context) (bool, error) { return true, nil }
func (NoopLocker) Unlock(context.Context) error          { return nil }

// DefaultAdvisoryKey pg_try_advisory_lock 使用的键
const DefaultAdvisoryKey int64 = 0x6e6f746573 // "notes"

// PgLocker 基于会话级 advisory lock；持锁期间独占一个连接
type PgLocker struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewPgLocker 创建 PgLocker；key 为 0 时使用 DefaultAdvisoryKey
func NewPgLocker(pool *pgxpool.Pool, key int64) *PgLocker {
	if key == 0 {
		key = DefaultAdvisoryKey
	}
	return &PgLocker{pool: pool, key: key}
}

func (l *PgLocker) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		// 连接断开时锁随会话释放
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		l.conn.Release()
		l.conn = nil
	}
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, err
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PgLocker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
	return err
}

// DefaultRedisLockKey Redis 锁的键
const DefaultRedisLockKey = "notes:reconcile:leader"

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLocker SET NX PX 锁；ttl 应大于扫描间隔，持有者每次 TryLock 时续期
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLocker 创建 RedisLocker
func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultRedisLockKey
	}
	if ttl <= 0 {
		ttl = 3 * DefaultInterval
	}
	return &RedisLocker{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	err = l.client.SetArgs(ctx, l.key, l.token, redis.SetArgs{Mode: "NX", TTL: l.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
