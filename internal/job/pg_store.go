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

package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notes-platform/internal/storage/migrate"
)

const jobColumns = `id, source_id, kind, status, progress, current_step, error, retry_count, artifact_ref, created_at, updated_at`

// PgStore Postgres 实现：sources / jobs 表，供 API 与 Worker 共享
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 创建基于 PostgreSQL 的 Store；启动时执行 goose 迁移
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	if err := migrate.Postgres(ctx, dsn); err != nil {
		return nil, err
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgStore{pool: pool}, nil
}

// Pool 暴露连接池，队列与对账锁复用同一连接池
func (s *PgStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close 关闭连接池
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var kind, status string
	err := row.Scan(&j.ID, &j.SourceID, &kind, &status, &j.Progress, &j.CurrentStep, &j.Error,
		&j.RetryCount, &j.ArtifactRef, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	return &j, nil
}

func (s *PgStore) CreateWithSource(ctx context.Context, src *Source, j *Job) error {
	if src == nil || j == nil {
		return errors.New("source and job are required")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sources (id, kind, locator, name, content_type, duration, size, user_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			src.ID, string(src.Kind), src.Locator, src.Name, src.ContentType, src.Duration, src.Size, src.UserID, src.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO jobs (id, source_id, kind, status, progress, current_step, error, retry_count, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			j.ID, j.SourceID, string(j.Kind), string(j.Status), j.Progress, j.CurrentStep, j.Error, j.RetryCount, j.CreatedAt, j.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

func (s *PgStore) Get(ctx context.Context, jobID string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (s *PgStore) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	var src Source
	var kind string
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, locator, name, content_type, duration, size, user_id, created_at FROM sources WHERE id = $1`,
		sourceID,
	).Scan(&src.ID, &kind, &src.Locator, &src.Name, &src.ContentType, &src.Duration, &src.Size, &src.UserID, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, err
	}
	src.Kind = Kind(kind)
	return &src, nil
}

// casMiss 条件更新未命中时区分：不存在 / 状态已变（非法迁移）
func (s *PgStore) casMiss(ctx context.Context, jobID string, to Status) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return &IllegalTransitionError{JobID: jobID, From: Status(status), To: to}
}

func (s *PgStore) Start(ctx context.Context, jobID, step string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', progress = 0, current_step = $2, updated_at = GREATEST(updated_at, now())
		 WHERE id = $1 AND status = 'queued'
		 RETURNING `+jobColumns,
		jobID, step,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.casMiss(ctx, jobID, StatusProcessing)
	}
	return j, err
}

func (s *PgStore) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = $2, current_step = COALESCE(NULLIF($3, ''), current_step), updated_at = GREATEST(updated_at, now())
		 WHERE id = $1 AND status = 'processing' AND progress < $2 AND $2 <= 99`,
		jobID, progress, step,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	var cur int
	err = s.pool.QueryRow(ctx, `SELECT status, progress FROM jobs WHERE id = $1`, jobID).Scan(&status, &cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if Status(status) != StatusProcessing {
		return &IllegalTransitionError{JobID: jobID, From: Status(status), To: StatusProcessing}
	}
	return fmt.Errorf("%w: job %s %d -> %d", ErrProgressRegression, jobID, cur, progress)
}

func (s *PgStore) Complete(ctx context.Context, jobID, artifactRef string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'completed', progress = 100, current_step = 'completed', error = '', artifact_ref = $2,
		        updated_at = GREATEST(updated_at, now())
		 WHERE id = $1 AND status = 'processing'
		 RETURNING `+jobColumns,
		jobID, artifactRef,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.casMiss(ctx, jobID, StatusCompleted)
	}
	return j, err
}

// Requeue 单条语句完成计数递增与 queued/failed 分支，SET 中引用的 retry_count 为旧值
func (s *PgStore) Requeue(ctx context.Context, jobID, cause string, maxRetries int) (*Job, bool, error) {
	if maxRetries <= 0 {
		j, err := s.Fail(ctx, jobID, cause)
		return j, false, err
	}
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET
		    retry_count  = retry_count + 1,
		    status       = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'queued' END,
		    progress     = CASE WHEN retry_count + 1 >= $3 THEN progress ELSE 0 END,
		    current_step = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'waiting for retry' END,
		    error        = CASE WHEN retry_count + 1 >= $3
		                        THEN LEFT('retries exhausted (' || (retry_count + 1) || '): ' || $2, 1024)
		                        ELSE $2 END,
		    updated_at   = GREATEST(updated_at, now())
		 WHERE id = $1 AND status = 'processing'
		 RETURNING `+jobColumns,
		jobID, truncateError(cause), maxRetries,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, s.casMiss(ctx, jobID, StatusQueued)
	}
	if err != nil {
		return nil, false, err
	}
	return j, j.Status == StatusQueued, nil
}

func (s *PgStore) Fail(ctx context.Context, jobID, cause string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'failed', current_step = 'failed', error = $2, updated_at = GREATEST(updated_at, now())
		 WHERE id = $1 AND status = 'processing'
		 RETURNING `+jobColumns,
		jobID, truncateError(cause),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.casMiss(ctx, jobID, StatusFailed)
	}
	return j, err
}

func (s *PgStore) listBefore(ctx context.Context, status Status, cutoff time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		string(status), cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PgStore) ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	return s.listBefore(ctx, StatusQueued, cutoff, limit)
}

func (s *PgStore) ListProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	return s.listBefore(ctx, StatusProcessing, cutoff, limit)
}

func (s *PgStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

func (s *PgStore) DeleteSource(ctx context.Context, sourceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, sourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSourceNotFound
	}
	return nil
}

var _ Store = (*PgStore)(nil)
