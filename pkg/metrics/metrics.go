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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		SubmissionsTotal, EnqueueFailuresTotal,
		JobDuration, JobTotal, JobRetriesTotal,
		WorkerBusy, ReconcileTotal, JobsByStatus,
	)
}

// SubmissionsTotal 提交次数（按类型与结果）
var SubmissionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notes_submissions_total",
		Help: "Source 提交次数",
	},
	[]string{"kind", "result"}, // result: accepted | invalid | storage_error | persist_error
)

// EnqueueFailuresTotal 事务提交后入队失败次数（Job 留在 queued 等待对账）
var EnqueueFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "notes_enqueue_failures_total",
		Help: "提交后入队失败次数",
	},
)

// JobDuration 单次执行耗时（秒）
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "notes_job_duration_seconds",
		Help:    "Job 单次执行耗时（秒）",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
	},
	[]string{"kind"},
)

// JobTotal 执行结果计数
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notes_job_total",
		Help: "Job 执行结果（按类型与结果）",
	},
	[]string{"kind", "outcome"}, // completed | retried | failed | timeout | skipped
)

// JobRetriesTotal 重新入队次数
var JobRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notes_job_retries_total",
		Help: "Job 因临时错误重新入队次数",
	},
	[]string{"kind"},
)

// WorkerBusy 当前正在执行的 Job 数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "notes_worker_busy",
		Help: "当前正在执行的 Job 数",
	},
	[]string{"worker_id"},
)

// ReconcileTotal 对账扫描处理的 Job 数
var ReconcileTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notes_reconcile_total",
		Help: "对账扫描处理的 Job 数",
	},
	[]string{"action"}, // requeued | failed
)

// JobsByStatus 各状态 Job 数，由对账扫描刷新
var JobsByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "notes_jobs",
		Help: "各状态 Job 数",
	},
	[]string{"status"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
