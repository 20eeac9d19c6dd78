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

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"notes-platform/internal/job"
	"notes-platform/internal/reconcile"
	"notes-platform/internal/storage/migrate"
	"notes-platform/internal/storage/object"
	"notes-platform/internal/taskqueue"
	"notes-platform/pkg/config"
	"notes-platform/pkg/log"
	"notes-platform/pkg/redaction"
	"notes-platform/pkg/secrets"
	"notes-platform/pkg/utils"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，避免在 cmd 内写业务装配
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Store   job.Store
	Queue   taskqueue.Queue
	Objects object.Store
	Content *object.ContentStore
	Secrets secrets.Store
	Locker  reconcile.Locker

	closers []func() error
}

// NewBootstrap 根据配置创建 Bootstrap（日志 / Job 存储 / 队列 / 对象存储 / secrets）
func NewBootstrap(ctx context.Context, cfg *config.Config) (b *Bootstrap, err error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	// secret 引用在副本上解析，调用方的配置保持原样
	resolved := *cfg
	cfg = &resolved
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	policy, err := redaction.LoadPolicy(cfg.Log.RedactRules)
	if err != nil {
		return nil, err
	}
	redaction.SetDefault(redaction.NewEngine(policy))

	boot := &Bootstrap{Config: cfg, Logger: logger, Locker: reconcile.NoopLocker{}}
	b = boot
	defer func() {
		// 出错返回时 b 已被置为 nil，用 boot 释放已创建的资源
		if err != nil {
			boot.Close()
		}
	}()

	b.Secrets, err = secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Vault: secrets.VaultConfig{
			Address:    cfg.Secrets.VaultAddress,
			Token:      cfg.Secrets.VaultToken,
			PathPrefix: cfg.Secrets.VaultPathPrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 secrets 失败: %w", err)
	}
	if err := resolveSecrets(ctx, b.Secrets, cfg); err != nil {
		return nil, err
	}

	var pgStore *job.PgStore
	switch cfg.JobStore.Type {
	case "", "memory":
		b.Store = job.NewMemoryStore()
	case "sqlite":
		s, err := job.NewSQLiteStore(ctx, cfg.JobStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("初始化 JobStore(sqlite) 失败: %w", err)
		}
		b.Store = s
	case "postgres":
		pgStore, err = job.NewPgStore(ctx, cfg.JobStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("初始化 JobStore(postgres) 失败: %w", err)
		}
		b.Store = pgStore
		b.Locker = reconcile.NewPgLocker(pgStore.Pool(), 0)
	default:
		return nil, fmt.Errorf("unsupported jobstore type: %s", cfg.JobStore.Type)
	}
	b.closers = append(b.closers, b.Store.Close)

	if err := b.initQueue(ctx, pgStore); err != nil {
		return nil, err
	}

	b.Objects, err = object.NewStore(ctx, cfg.Storage.Object)
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}
	b.closers = append(b.closers, b.Objects.Close)
	b.Content = object.NewContentStore(b.Objects)

	logger.Info("bootstrap ready",
		"jobstore", utils.CoalesceString(cfg.JobStore.Type, "memory"),
		"queue", utils.CoalesceString(cfg.Queue.Type, "memory"),
		"object_store", utils.CoalesceString(cfg.Storage.Object.Type, "memory"))
	return b, nil
}

// resolveSecrets 将连接串与凭证中的 secret:// 引用替换为实际值
func resolveSecrets(ctx context.Context, store secrets.Store, cfg *config.Config) error {
	for name, p := range map[string]*string{
		"jobstore.dsn":              &cfg.JobStore.DSN,
		"queue.dsn":                 &cfg.Queue.DSN,
		"queue.password":            &cfg.Queue.Password,
		"storage.object.access_key": &cfg.Storage.Object.AccessKey,
		"storage.object.secret_key": &cfg.Storage.Object.SecretKey,
		"api.middleware.jwt_key":    &cfg.API.Middleware.JWTKey,
	} {
		v, err := secrets.Resolve(ctx, store, *p)
		if err != nil {
			return fmt.Errorf("解析 %s 失败: %w", name, err)
		}
		*p = v
	}
	return nil
}

func (b *Bootstrap) initQueue(ctx context.Context, pgStore *job.PgStore) error {
	cfg := b.Config.Queue
	opts := taskqueue.Options{
		LeaseDuration: config.ParseDuration(cfg.LeaseDuration, taskqueue.DefaultLeaseDuration),
		PollInterval:  config.ParseDuration(cfg.PollInterval, taskqueue.DefaultPollInterval),
	}
	switch cfg.Type {
	case "", "memory":
		b.Queue = taskqueue.NewMemoryQueue(opts)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("连接 redis 失败: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Queue = taskqueue.NewRedisQueue(client, cfg.Prefix, opts)
		if pgStore == nil {
			b.Locker = reconcile.NewRedisLocker(client, "", 0)
		}
	case "postgres":
		pool, err := b.queuePool(ctx, pgStore)
		if err != nil {
			return err
		}
		b.Queue = taskqueue.NewPgQueue(pool, opts)
		if pgStore == nil {
			b.Locker = reconcile.NewPgLocker(pool, 0)
		}
	default:
		return fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}
	b.closers = append(b.closers, b.Queue.Close)
	return nil
}

// queuePool queue.dsn 为空时复用 jobstore 的连接池
func (b *Bootstrap) queuePool(ctx context.Context, pgStore *job.PgStore) (*pgxpool.Pool, error) {
	dsn := b.Config.Queue.DSN
	if dsn == "" || (pgStore != nil && dsn == b.Config.JobStore.DSN) {
		if pgStore == nil {
			return nil, errors.New("queue.type=postgres requires queue.dsn or jobstore.type=postgres")
		}
		return pgStore.Pool(), nil
	}
	if err := migrate.Postgres(ctx, dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("连接队列数据库失败: %w", err)
	}
	b.closers = append(b.closers, func() error { pool.Close(); return nil })
	return pool, nil
}

// Close 按创建的逆序释放资源
func (b *Bootstrap) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
