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

package worker

import (
	"bytes"
	"context"
	"fmt"

	hzapp "github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"notes-platform/internal/app"
	"notes-platform/internal/reconcile"
	"notes-platform/internal/worker"
	"notes-platform/pkg/config"
	"notes-platform/pkg/log"
	"notes-platform/pkg/metrics"
	"notes-platform/pkg/tracing"
)

// App Worker 应用：从队列领取任务执行转换，同时运行对账扫描（多实例时由锁选出一个执行）
type App struct {
	bootstrap *app.Bootstrap
	logger    *log.Logger
	worker    *worker.Worker
	sweeper   *reconcile.Sweeper
	metrics   *server.Hertz
	tracer    *sdktrace.TracerProvider
	cancel    context.CancelFunc
}

// NewApp 创建新的 Worker 应用
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	b, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		bootstrap: b,
		logger:    b.Logger,
		worker:    app.NewWorker(b),
	}
	if q := b.Config.Queue.Type; q == "" || q == "memory" {
		a.logger.Warn("queue 为 memory，独立 worker 收不到 API 提交的任务")
	}
	if app.ReconcileEnabled(b.Config) {
		a.sweeper = app.NewSweeper(b)
	}
	if t := b.Config.Monitoring.Tracing; t.Enable && t.ExportEndpoint != "" {
		name := t.ServiceName
		if name == "" {
			name = "notes-worker"
		}
		tp, err := tracing.InitTracer(ctx, tracing.OTelConfig{ServiceName: name, ExportEndpoint: t.ExportEndpoint, Insecure: t.Insecure})
		if err != nil {
			a.logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			a.tracer = tp
		}
	}
	if port := b.Config.Worker.MetricsPort; port > 0 {
		a.metrics = metricsServer(fmt.Sprintf(":%d", port))
	}
	return a, nil
}

func metricsServer(addr string) *server.Hertz {
	h := server.New(server.WithHostPorts(addr))
	h.GET("/metrics", func(ctx context.Context, c *hzapp.RequestContext) {
		var buf bytes.Buffer
		if err := metrics.WritePrometheus(&buf); err != nil {
			c.String(consts.StatusInternalServerError, "%v", err)
			return
		}
		c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
	})
	return h
}

// Start 启动 Worker 循环、对账扫描与指标端口
func (a *App) Start() error {
	a.logger.Info("启动 worker 应用")
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.worker.Start(ctx)
	if a.sweeper != nil {
		go a.sweeper.Run(ctx)
	}
	if a.metrics != nil {
		go func() {
			if err := a.metrics.Run(); err != nil {
				a.logger.Warn("指标服务退出", "error", err)
			}
		}()
	}
	a.logger.Info("worker 应用启动成功")
	return nil
}

// Shutdown 停止领取新任务并等待进行中的 Job 结束；未结束的投递被释放回队列
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("关闭 worker 应用")
	if a.cancel != nil {
		a.cancel()
	}
	a.worker.Stop()
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
	if err := a.bootstrap.Close(); err != nil {
		a.logger.Error("释放资源失败", "error", err)
		return err
	}
	a.logger.Info("worker 应用关闭成功")
	return nil
}
