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
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgQueue PostgreSQL 实现，使用 queue_tasks 表；visible_at 同时表示延迟与租约到期
type PgQueue struct {
	pool   *pgxpool.Pool
	opts   Options
	closed chan struct{}
	once   sync.Once
}

// NewPgQueue 创建基于 PostgreSQL 的队列；pool 与 job.PgStore 共用即可（表由同一组迁移创建）
func NewPgQueue(pool *pgxpool.Pool, opts Options) *PgQueue {
	return &PgQueue{pool: pool, opts: opts.withDefaults(), closed: make(chan struct{})}
}

func (q *PgQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) (bool, error) {
	if delay < 0 {
		delay = 0
	}
	tag, err := q.pool.Exec(ctx,
		`INSERT INTO queue_tasks (job_id, enqueued_at, attempts, visible_at)
		 VALUES ($1, now(), 0, now() + $2 * interval '1 millisecond')
		 ON CONFLICT (job_id) DO NOTHING`,
		jobID, delay.Milliseconds(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// claim 原子认领一条可见任务（含租约已过期的任务）
func (q *PgQueue) claim(ctx context.Context) (*Delivery, error) {
	token := uuid.New().String()
	var d Delivery
	err := q.pool.QueryRow(ctx,
		`WITH sel AS (
  SELECT job_id FROM queue_tasks WHERE visible_at <= now() ORDER BY visible_at, enqueued_at LIMIT 1 FOR UPDATE SKIP LOCKED
)
UPDATE queue_tasks SET attempts = attempts + 1, lease_token = $1, visible_at = now() + $2 * interval '1 millisecond'
FROM sel WHERE queue_tasks.job_id = sel.job_id
RETURNING queue_tasks.job_id, queue_tasks.enqueued_at, queue_tasks.attempts, queue_tasks.visible_at`,
		token, q.opts.LeaseDuration.Milliseconds(),
	).Scan(&d.JobID, &d.EnqueuedAt, &d.Attempts, &d.LeaseUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Token = token
	return &d, nil
}

func (q *PgQueue) Receive(ctx context.Context) (*Delivery, error) {
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

func (q *PgQueue) Ack(ctx context.Context, d *Delivery) error {
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM queue_tasks WHERE job_id = $1 AND lease_token = $2 AND visible_at > now()`,
		d.JobID, d.Token,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *PgQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	tag, err := q.pool.Exec(ctx,
		`UPDATE queue_tasks SET lease_token = NULL, visible_at = now() + $3 * interval '1 millisecond'
		 WHERE job_id = $1 AND lease_token = $2 AND visible_at > now()`,
		d.JobID, d.Token, delay.Milliseconds(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *PgQueue) Extend(ctx context.Context, d *Delivery) error {
	var until time.Time
	err := q.pool.QueryRow(ctx,
		`UPDATE queue_tasks SET visible_at = now() + $3 * interval '1 millisecond'
		 WHERE job_id = $1 AND lease_token = $2 AND visible_at > now()
		 RETURNING visible_at`,
		d.JobID, d.Token, q.opts.LeaseDuration.Milliseconds(),
	).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLeaseLost
	}
	if err != nil {
		return err
	}
	d.LeaseUntil = until
	return nil
}

func (q *PgQueue) Contains(ctx context.Context, jobID string) (bool, error) {
	var ok bool
	err := q.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue_tasks WHERE job_id = $1)`, jobID).Scan(&ok)
	return ok, err
}

// Close 停止 Receive；连接池由 job.PgStore 关闭
func (q *PgQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

var _ Queue = (*PgQueue)(nil)
