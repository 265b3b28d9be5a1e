// ============================================================================
// Faleiro Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露任務協調的運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - faleiro_tasks_emitted_total{kind}: 送出的 task 數（split / partition）
//      - faleiro_tasks_rescheduled_total: 因失敗或逾時重新送出的 task 數
//      - faleiro_partitions_completed_total: 完成的 partition 數
//      - faleiro_protocol_errors_total: 無法處理的 worker 訊息數
//      - faleiro_retries_exhausted_total: 重試用盡而停止的任務數
//
//   2. 狀態指標 (Gauge)：
//      - faleiro_best_energy{job_id}: 各任務目前最佳分數
//      - faleiro_jobs{state}: 各狀態任務數
//      - faleiro_recovery_time_seconds: 最近一次恢復時間
//
//   3. 分佈 (Histogram)：
//      - faleiro_checkpoint_duration_seconds: 每次 checkpoint 的耗時
//
// Prometheus 查詢示例:
//
//   # 每分鐘完成 partition 數
//   rate(faleiro_partitions_completed_total[1m])
//
//   # 重排程比例
//   rate(faleiro_tasks_rescheduled_total[5m]) / sum(rate(faleiro_tasks_emitted_total[5m]))
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// task 相關指標
	tasksEmitted        *prometheus.CounterVec
	tasksRescheduled    prometheus.Counter
	partitionsCompleted prometheus.Counter
	protocolErrors      prometheus.Counter
	retriesExhausted    prometheus.Counter

	// 任務狀態指標
	bestEnergy   *prometheus.GaugeVec
	jobsByState  *prometheus.GaugeVec
	recoveryTime prometheus.Gauge

	// 效能指標
	checkpointDuration prometheus.Histogram
}

// NewCollector 創建新的指標收集器並註冊到 reg（nil 時使用預設註冊器）
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		tasksEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faleiro_tasks_emitted_total",
			Help: "Total number of tasks handed to the scheduler",
		}, []string{"kind"}),
		tasksRescheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faleiro_tasks_rescheduled_total",
			Help: "Total number of tasks re-issued after failure or timeout",
		}),
		partitionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faleiro_partitions_completed_total",
			Help: "Total number of partition results recorded",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faleiro_protocol_errors_total",
			Help: "Total number of worker messages rejected as malformed or misrouted",
		}),
		retriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faleiro_retries_exhausted_total",
			Help: "Total number of jobs stopped because a task ran out of retries",
		}),
		bestEnergy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "faleiro_best_energy",
			Help: "Best fitness score found so far per job",
		}, []string{"job_id"}),
		jobsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "faleiro_jobs",
			Help: "Current number of hosted jobs per state",
		}, []string{"state"}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faleiro_recovery_time_seconds",
			Help: "Time taken to recover jobs on start in seconds",
		}),
		checkpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "faleiro_checkpoint_duration_seconds",
			Help:    "Time taken to write a checkpoint of every job",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.tasksEmitted,
		c.tasksRescheduled,
		c.partitionsCompleted,
		c.protocolErrors,
		c.retriesExhausted,
		c.bestEnergy,
		c.jobsByState,
		c.recoveryTime,
		c.checkpointDuration,
	)
	return c
}

// RecordTaskEmitted 記錄送出 task；retry 表示為重新送出
func (c *Collector) RecordTaskEmitted(kind string, retry bool) {
	c.tasksEmitted.WithLabelValues(kind).Inc()
	if retry {
		c.tasksRescheduled.Inc()
	}
}

// RecordPartitionCompleted 記錄 partition 完成並更新最佳分數
func (c *Collector) RecordPartitionCompleted(id types.JobID, bestEnergy float64) {
	c.partitionsCompleted.Inc()
	c.bestEnergy.WithLabelValues(id.String()).Set(bestEnergy)
}

// RecordProtocolError 記錄被拒絕的 worker 訊息
func (c *Collector) RecordProtocolError() {
	c.protocolErrors.Inc()
}

// RecordRetriesExhausted 記錄重試用盡
func (c *Collector) RecordRetriesExhausted() {
	c.retriesExhausted.Inc()
}

// ForgetJob 移除任務的 per-job 指標
func (c *Collector) ForgetJob(id types.JobID) {
	c.bestEnergy.DeleteLabelValues(id.String())
}

// UpdateJobStates 以目前各狀態任務數覆寫 faleiro_jobs
func (c *Collector) UpdateJobStates(counts map[types.JobState]int) {
	for _, s := range []types.JobState{
		types.StateInitialized, types.StateRunning, types.StatePaused, types.StateStop, types.StateDone,
	} {
		c.jobsByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// RecordStateChange 任務狀態轉移時調整 faleiro_jobs；from 為空代表新任務
func (c *Collector) RecordStateChange(from, to types.JobState) {
	if from != "" {
		c.jobsByState.WithLabelValues(string(from)).Dec()
	}
	c.jobsByState.WithLabelValues(string(to)).Inc()
}

// SetRecoveryTime 設置恢復時間
func (c *Collector) SetRecoveryTime(d time.Duration) {
	c.recoveryTime.Set(d.Seconds())
}

// ObserveCheckpoint 記錄一次 checkpoint 耗時
func (c *Collector) ObserveCheckpoint(d time.Duration) {
	c.checkpointDuration.Observe(d.Seconds())
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器，ctx 取消時關閉
func StartServer(ctx context.Context, addr string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
