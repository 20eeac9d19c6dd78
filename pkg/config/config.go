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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"notes-platform/pkg/redaction"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	JobStore   JobStoreConfig   `mapstructure:"jobstore"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Convert    ConvertConfig    `mapstructure:"convert"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
	Grpc       GrpcConfig       `mapstructure:"grpc"`
}

// GrpcConfig gRPC 服务配置
type GrpcConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	JWTKey        string `mapstructure:"jwt_key"`         // 为空时从 secrets 读取
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "30m"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "168h"
}

// JobStoreConfig Source/Job 记录存储
type JobStoreConfig struct {
	Type string `mapstructure:"type"` // memory | postgres | sqlite
	DSN  string `mapstructure:"dsn"`  // postgres 连接串或 sqlite 文件路径
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Type          string `mapstructure:"type"`           // memory | redis | postgres
	Addr          string `mapstructure:"addr"`           // redis 地址
	Password      string `mapstructure:"password"`       // redis 密码
	DB            int    `mapstructure:"db"`             // redis DB 编号
	DSN           string `mapstructure:"dsn"`            // postgres 连接串，空则复用 jobstore.dsn
	Prefix        string `mapstructure:"prefix"`         // redis key 前缀，默认 "notes:queue"
	LeaseDuration string `mapstructure:"lease_duration"` // 可见性租约，默认 30s
	PollInterval  string `mapstructure:"poll_interval"`  // 空队列轮询间隔，默认 500ms
}

// WorkerConfig Worker 配置
type WorkerConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`        // <=0 默认 2
	MaxRetries        int    `mapstructure:"max_retries"`        // <=0 默认 3
	BackoffBase       string `mapstructure:"backoff_base"`       // 默认 2s
	BackoffMax        string `mapstructure:"backoff_max"`        // 默认 5m
	JobTimeout        string `mapstructure:"job_timeout"`        // 单 Job 墙钟上限，默认 30m
	HeartbeatInterval string `mapstructure:"heartbeat_interval"` // 空则为租约一半
	MetricsPort       int    `mapstructure:"metrics_port"`       // >0 时暴露 /metrics
}

// ReconcileConfig 对账扫描
type ReconcileConfig struct {
	Enable   *bool  `mapstructure:"enable"`   // 未配置时默认开启
	Interval string `mapstructure:"interval"` // 默认 1m
	Grace    string `mapstructure:"grace"`    // 默认 2m
}

// IngestConfig 提交限制
type IngestConfig struct {
	MaxAudioBytes    int64 `mapstructure:"max_audio_bytes"`    // 默认 25 MiB
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes"` // 默认 50 MiB
}

// ConvertConfig 转换函数配置
type ConvertConfig struct {
	TranscribeURL string                     `mapstructure:"transcribe_url"`
	HTTPTimeout   string                     `mapstructure:"http_timeout"` // 默认 60s
	CaptionLang   string                     `mapstructure:"caption_lang"` // 默认 en
	RateLimits    map[string]RateLimitConfig `mapstructure:"rate_limits"`  // key: audio | youtube | document
}

// RateLimitConfig 单类转换的限流
type RateLimitConfig struct {
	QPS   float64 `mapstructure:"qps"`
	Burst int     `mapstructure:"burst"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Object ObjectConfig `mapstructure:"object"`
}

// ObjectConfig 对象存储配置
type ObjectConfig struct {
	Type      string `mapstructure:"type"` // memory | file | minio
	Root      string `mapstructure:"root"` // file 类型根目录
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// SecretsConfig secret 来源
type SecretsConfig struct {
	Provider        string `mapstructure:"provider"` // env | memory | vault
	VaultAddress    string `mapstructure:"vault_address"`
	VaultToken      string `mapstructure:"vault_token"`
	VaultPathPrefix string `mapstructure:"vault_path_prefix"`
	JWTKeyName      string `mapstructure:"jwt_key_name"` // 默认 NOTES_JWT_KEY
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
	// RedactRules 追加到默认凭据脱敏规则之后，作用于写入 Job 的错误信息
	RedactRules []redaction.RuleConfig `mapstructure:"redact_rules"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// LoadConfig 加载配置文件；工作目录下的 .env 先载入环境变量，再由 viper 读取 YAML 并允许环境变量覆盖
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("无法读取 .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 替换 ${VAR} 形式的敏感字段
func replaceEnvVars(config *Config) {
	for _, p := range []*string{
		&config.JobStore.DSN,
		&config.Queue.DSN,
		&config.Queue.Password,
		&config.API.Middleware.JWTKey,
		&config.Storage.Object.AccessKey,
		&config.Storage.Object.SecretKey,
		&config.Secrets.VaultToken,
	} {
		*p = expandEnv(*p)
	}
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	if val := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")); val != "" {
		return val
	}
	return s
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}

// ParseDuration 解析时长字符串，无效、空或非正时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
