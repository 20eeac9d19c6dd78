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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers "sqlite"

	"notes-platform/internal/storage/migrate"
)

// SQLiteStore 单机部署用的 SQLite 实现；时间戳以 unix 纳秒整数存储
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore 打开 path 指向的数据库（":memory:" 为进程内临时库）并执行迁移
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := sqliteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY；也保证 :memory: 库在连接间可见
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate.Up(ctx, db, goose.DialectSQLite3, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == "" || path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas + "&_pragma=journal_mode(WAL)"
}

// SetClock 替换时钟，测试用
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func toNanos(t time.Time) int64   { return t.UnixNano() }
func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*Job, error) {
	var j Job
	var kind, status string
	var created, updated int64
	err := row.Scan(&j.ID, &j.SourceID, &kind, &status, &j.Progress, &j.CurrentStep, &j.Error,
		&j.RetryCount, &j.ArtifactRef, &created, &updated)
	if err != nil {
		return nil, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	j.CreatedAt = fromNanos(created)
	j.UpdatedAt = fromNanos(updated)
	return &j, nil
}

func (s *SQLiteStore) CreateWithSource(ctx context.Context, src *Source, j *Job) error {
	if src == nil || j == nil {
		return errors.New("source and job are required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sources (id, kind, locator, name, content_type, duration, size, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, string(src.Kind), src.Locator, src.Name, src.ContentType, src.Duration, src.Size, src.UserID, toNanos(src.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, source_id, kind, status, progress, current_step, error, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SourceID, string(j.Kind), string(j.Status), j.Progress, j.CurrentStep, j.Error, j.RetryCount,
		toNanos(j.CreatedAt), toNanos(j.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (s *SQLiteStore) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	var src Source
	var kind string
	var created int64
	var duration sql.NullFloat64
	var size sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, locator, name, content_type, duration, size, user_id, created_at FROM sources WHERE id = ?`,
		sourceID,
	).Scan(&src.ID, &kind, &src.Locator, &src.Name, &src.ContentType, &duration, &size, &src.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, err
	}
	src.Kind = Kind(kind)
	src.CreatedAt = fromNanos(created)
	if duration.Valid {
		src.Duration = &duration.Float64
	}
	if size.Valid {
		src.Size = &size.Int64
	}
	return &src, nil
}

// mutate 事务内读取当前行、应用状态方法，再以 status 为条件写回
func (s *SQLiteStore) mutate(ctx context.Context, jobID string, fn func(j *Job, now time.Time) error) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	cur, err := scanSQLiteJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	next := *cur
	if err := fn(&next, s.now()); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, current_step = ?, error = ?, retry_count = ?, artifact_ref = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(next.Status), next.Progress, next.CurrentStep, next.Error, next.RetryCount, next.ArtifactRef,
		toNanos(next.UpdatedAt), jobID, string(cur.Status),
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, &IllegalTransitionError{JobID: jobID, From: cur.Status, To: next.Status}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *SQLiteStore) Start(ctx context.Context, jobID, step string) (*Job, error) {
	return s.mutate(ctx, jobID, func(j *Job, now time.Time) error { return j.Start(step, now) })
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	_, err := s.mutate(ctx, jobID, func(j *Job, now time.Time) error { return j.Advance(progress, step, now) })
	return err
}

func (s *SQLiteStore) Complete(ctx context.Context, jobID, artifactRef string) (*Job, error) {
	return s.mutate(ctx, jobID, func(j *Job, now time.Time) error { return j.Complete(artifactRef, now) })
}

func (s *SQLiteStore) Requeue(ctx context.Context, jobID, cause string, maxRetries int) (*Job, bool, error) {
	var requeued bool
	j, err := s.mutate(ctx, jobID, func(j *Job, now time.Time) error {
		var err error
		requeued, err = j.Retry(cause, maxRetries, now)
		return err
	})
	return j, requeued, err
}

func (s *SQLiteStore) Fail(ctx context.Context, jobID, cause string) (*Job, error) {
	return s.mutate(ctx, jobID, func(j *Job, now time.Time) error { return j.Fail(cause, now) })
}

func (s *SQLiteStore) listBefore(ctx context.Context, status Status, cutoff time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at LIMIT ?`,
		string(status), toNanos(cutoff), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	return s.listBefore(ctx, StatusQueued, cutoff, limit)
}

func (s *SQLiteStore) ListProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	return s.listBefore(ctx, StatusProcessing, cutoff, limit)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
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

func (s *SQLiteStore) DeleteSource(ctx context.Context, sourceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSourceNotFound
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
