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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"google.golang.org/grpc"

	apigrpc "notes-platform/internal/api/grpc"
	"notes-platform/internal/api/http"
	"notes-platform/internal/api/http/middleware"
	"notes-platform/internal/app"
	"notes-platform/internal/reconcile"
	"notes-platform/internal/status"
	"notes-platform/internal/worker"
	pkgconfig "notes-platform/pkg/config"
	"notes-platform/pkg/log"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Router、Handler、Middleware 与可选的 gRPC 服务）
type App struct {
	bootstrap    *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	grpcServer   *grpcRun
	otelProvider otelProviderShutdown

	// queue 为 memory 时任务无法跨进程投递，API 进程内嵌 Worker 与对账扫描
	worker      *worker.Worker
	sweeper     *reconcile.Sweeper
	cancelEmbed context.CancelFunc
}

// grpcRun 持有 gRPC Server 与 Listener，用于 GracefulStop 时关闭
type grpcRun struct {
	srv     *grpc.Server
	service *apigrpc.Server
	lis     net.Listener
}

func (g *grpcRun) GracefulStop() {
	g.service.Shutdown()
	g.srv.GracefulStop()
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(ctx context.Context, b *app.Bootstrap) (*App, error) {
	cfg := b.Config
	d := app.NewDispatcher(b)
	reporter := status.NewReporter(b.Store)
	handler := http.NewHandler(d, reporter, b.Logger.With("component", "http"))

	var jwtKey []byte
	mw := middleware.NewMiddleware(nil, b.Logger)
	if cfg.API.Middleware.Auth {
		key := app.JWTKey(ctx, b)
		if key == "" {
			return nil, fmt.Errorf("api.middleware.auth 已开启但未配置 JWT 密钥")
		}
		jwtKey = []byte(key)
		timeout := pkgconfig.ParseDuration(cfg.API.Middleware.JWTTimeout, time.Hour)
		maxRefresh := pkgconfig.ParseDuration(cfg.API.Middleware.JWTMaxRefresh, time.Hour)
		jwtAuth, err := middleware.NewJWTAuth(jwtKey, timeout, maxRefresh)
		if err != nil {
			return nil, fmt.Errorf("JWT 初始化失败: %w", err)
		}
		mw = middleware.NewMiddleware(jwtAuth, b.Logger)
		b.Logger.Info("JWT 认证已启用")
	} else {
		b.Logger.Warn("JWT 认证未启用，信任 X-User-ID 请求头")
	}

	limits := d.Limits()
	appObj := &App{
		bootstrap: b,
		router:    http.NewRouter(handler, mw, max(limits.MaxAudioBytes, limits.MaxDocumentBytes)),
	}

	if cfg.Queue.Type == "" || cfg.Queue.Type == "memory" {
		appObj.worker = app.NewWorker(b)
		if app.ReconcileEnabled(cfg) {
			appObj.sweeper = app.NewSweeper(b)
		}
	}

	if cfg.API.Grpc.Enable && cfg.API.Grpc.Port > 0 {
		gs, err := startGRPC(apigrpc.NewServer(d, reporter), jwtKey, cfg.API.Grpc.Port)
		if err != nil {
			b.Logger.Warn("gRPC 服务启动失败", "error", err)
		} else {
			appObj.grpcServer = gs
			b.Logger.Info("gRPC 服务已启动", "port", cfg.API.Grpc.Port)
		}
	}
	return appObj, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	a.bootstrap.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output, err := log.Output(&log.Config{File: cfg.Log.File})
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar(cfg.Log.Level)),
	))

	var opts []config.Option
	var tracerCfg *hertztracing.Config
	if cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "notes-api"
		}
		endpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint != "" {
			popts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(endpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				popts = append(popts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(popts...)
			var tracerOpt config.Option
			tracerOpt, tracerCfg = hertztracing.NewServerTracer()
			opts = append(opts, tracerOpt)
			a.bootstrap.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint)
		}
	}
	a.hertz = a.router.Build(addr, opts...)
	if tracerCfg != nil {
		a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
	}

	if a.worker != nil || a.sweeper != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancelEmbed = cancel
		if a.worker != nil {
			a.worker.Start(ctx)
			a.bootstrap.Logger.Info("内嵌 Worker 已启动（queue=memory）")
		}
		if a.sweeper != nil {
			go a.sweeper.Run(ctx)
		}
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if a.cancelEmbed != nil {
		a.cancelEmbed()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	return a.bootstrap.Close()
}

// startGRPC 创建并启动 gRPC 服务（在 goroutine 中 Serve），返回 grpcRun 以便 Shutdown 时 GracefulStop
func startGRPC(service *apigrpc.Server, jwtKey []byte, port int) (*grpcRun, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(apigrpc.AuthInterceptor(jwtKey)))
	service.Register(srv)
	go func() {
		_ = srv.Serve(lis)
	}()
	return &grpcRun{srv: srv, service: service, lis: lis}, nil
}

func levelVar(level string) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(log.ParseLevel(level))
	return v
}
