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
	"time"

	"notes-platform/internal/artifact"
	"notes-platform/internal/convert"
	"notes-platform/internal/dispatcher"
	"notes-platform/internal/job"
	"notes-platform/internal/reconcile"
	"notes-platform/internal/worker"
	"notes-platform/pkg/config"
	"notes-platform/pkg/secrets"
	"notes-platform/pkg/utils"
)

// DefaultJWTKeyName secrets 中 JWT 签名密钥的默认键
const DefaultJWTKeyName = "NOTES_JWT_KEY"

// NewDispatcher 按 ingest 配置创建 Dispatcher，删除 Source 时一并清理产物
func NewDispatcher(b *Bootstrap) *dispatcher.Dispatcher {
	d := dispatcher.New(b.Store, b.Queue, b.Content, dispatcher.Limits{
		MaxAudioBytes:    b.Config.Ingest.MaxAudioBytes,
		MaxDocumentBytes: b.Config.Ingest.MaxDocumentBytes,
	}, b.Logger.With("component", "dispatcher"))
	d.SetArtifactCleaner(NewSink(b))
	return d
}

// NewSink 产物写入对象存储 artifacts/ 下，分块使用默认窗口
func NewSink(b *Bootstrap) *artifact.Sink {
	return artifact.NewSink(b.Objects, artifact.NewMarkdownChunker(artifact.DefaultChunkSize, artifact.DefaultChunkOverlap))
}

// NewConverters 注册三类转换函数及其限流
func NewConverters(b *Bootstrap) *convert.Registry {
	cc := b.Config.Convert
	timeout := config.ParseDuration(cc.HTTPTimeout, 60*time.Second)
	limit := func(kind job.Kind) convert.Limit {
		rl := cc.RateLimits[string(kind)]
		return convert.Limit{QPS: rl.QPS, Burst: rl.Burst}
	}
	reg := convert.NewRegistry()
	reg.Register(job.KindYouTube, convert.NewYouTubeConverter(timeout, cc.CaptionLang), limit(job.KindYouTube))
	reg.Register(job.KindAudio, convert.NewAudioConverter(b.Content, cc.TranscribeURL, timeout), limit(job.KindAudio))
	reg.Register(job.KindDocument, convert.NewDocumentConverter(b.Content), limit(job.KindDocument))
	return reg
}

// WorkerConfig worker 配置段转换为 worker.Config
func WorkerConfig(cfg *config.Config) worker.Config {
	wc := cfg.Worker
	lease := config.ParseDuration(cfg.Queue.LeaseDuration, 0)
	hb := config.ParseDuration(wc.HeartbeatInterval, lease/2)
	return worker.Config{
		Concurrency:       wc.Concurrency,
		MaxRetries:        utils.PositiveInt(wc.MaxRetries, worker.DefaultMaxRetries),
		BackoffBase:       config.ParseDuration(wc.BackoffBase, worker.DefaultBackoffBase),
		BackoffMax:        config.ParseDuration(wc.BackoffMax, worker.DefaultBackoffMax),
		JobTimeout:        config.ParseDuration(wc.JobTimeout, worker.DefaultJobTimeout),
		HeartbeatInterval: hb,
		PollInterval:      config.ParseDuration(cfg.Queue.PollInterval, time.Second),
	}
}

// NewWorker 创建 Worker
func NewWorker(b *Bootstrap) *worker.Worker {
	return worker.New(WorkerConfig(b.Config), b.Store, b.Queue, NewConverters(b), NewSink(b), b.Logger.With("component", "worker"))
}

// ReconcileEnabled 未显式关闭时开启
func ReconcileEnabled(cfg *config.Config) bool {
	return cfg.Reconcile.Enable == nil || *cfg.Reconcile.Enable
}

// NewSweeper 创建对账扫描，锁由 Bootstrap 按后端选择
func NewSweeper(b *Bootstrap) *reconcile.Sweeper {
	return reconcile.NewSweeper(reconcile.Config{
		Interval:   config.ParseDuration(b.Config.Reconcile.Interval, reconcile.DefaultInterval),
		Grace:      config.ParseDuration(b.Config.Reconcile.Grace, reconcile.DefaultGrace),
		JobTimeout: config.ParseDuration(b.Config.Worker.JobTimeout, worker.DefaultJobTimeout),
	}, b.Store, b.Queue, b.Locker, b.Logger)
}

// JWTKey 优先使用配置中的 jwt_key，否则从 secrets 读取
func JWTKey(ctx context.Context, b *Bootstrap) string {
	mc := b.Config.API.Middleware
	if mc.JWTKey != "" {
		return mc.JWTKey
	}
	name := utils.CoalesceString(b.Config.Secrets.JWTKeyName, DefaultJWTKeyName)
	return secrets.GetOrDefault(ctx, b.Secrets, name, "")
}
