// ============================================================================
// Faleiro Framework - 多任務主機
// ============================================================================
//
// Package: internal/framework
// 文件: framework.go
// 功能: 承載多個最佳化任務，負責提交、訊息路由、排程器拉取、定期 checkpoint 與崩潰恢復
//
// 架構設計:
//   - Job: 單一任務的狀態機與結果（internal/job）
//   - Journal: 兩次 checkpoint 之間的進度事件（internal/journal）
//   - Snapshot Manager: 每個任務一份快照，寫入 BlobStore（internal/snapshot）
//   - Metrics: Prometheus 指標（internal/metrics）
//
// 核心循環:
//   Checkpoint Loop - 以帶抖動的間隔旋轉 journal、寫入所有快照、壓縮舊分段
//
// 崩潰恢復流程（Start 時執行）:
//   1. 並行載入所有快照並重建任務（損壞的快照只影響該任務）
//   2. 重放 journal，補回最後一次 checkpoint 之後的進度（冪等）
//   3. 啟動所有未終止的任務
//
// 關閉流程（Stop）:
//   1. 停止 checkpoint loop
//   2. detach 所有任務（不改變狀態，下次啟動時恢復）
//   3. 最後一次 checkpoint
//   4. 關閉 journal
//
// ============================================================================

package framework

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ChuLiYu/faleiro/internal/job"
	"github.com/ChuLiYu/faleiro/internal/journal"
	"github.com/ChuLiYu/faleiro/internal/metrics"
	"github.com/ChuLiYu/faleiro/internal/snapshot"
	"github.com/ChuLiYu/faleiro/internal/store"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrNotRunning     = errors.New("framework is not running")
	ErrAlreadyStarted = errors.New("framework already started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Framework 配置
type Config struct {
	JournalDir          string          // journal 分段目錄
	Journal             journal.Options // journal 緩衝與 fsync 設定
	CheckpointInterval  time.Duration   // <= 0 時不啟動 checkpoint loop
	CheckpointJitter    time.Duration   // checkpoint 間隔的常態分佈標準差
	RecoveryConcurrency int             // 恢復時同時載入的快照數
	CompressSnapshots   bool

	// 套用到每個任務
	Retry        job.RetryPolicy
	SplitTimeout time.Duration
	Resources    *types.Resources
}

// Options 可注入依賴
type Options struct {
	Logger  *zap.Logger
	Store   store.BlobStore    // 必填
	Metrics *metrics.Collector // nil 時使用獨立的 registry
	Clock   clock.Clock
}

// Framework 多任務主機
type Framework struct {
	cfg        Config
	log        *zap.Logger
	clk        clock.Clock
	snapshots  *snapshot.Manager
	metrics    *metrics.Collector
	instanceID string

	journal  *journal.Journal // Start 後有效
	recorder *recorder

	mu      sync.RWMutex // 保護 jobs、nextID 與生命週期旗標
	jobs    map[types.JobID]*job.Job
	nextID  types.JobID
	started bool
	stopped bool

	ckptMu     sync.Mutex // 同一時間只有一個 checkpoint
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New 建立 Framework，尚未恢復任何任務
func New(cfg Config, opts Options) (*Framework, error) {
	if opts.Store == nil {
		return nil, errors.New("framework: store is required")
	}
	if cfg.JournalDir == "" {
		return nil, errors.New("framework: journal dir is required")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("framework: %w", err)
	}
	if cfg.RecoveryConcurrency <= 0 {
		cfg.RecoveryConcurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector(prometheus.NewRegistry())
	}

	var snapOpts []snapshot.Option
	if cfg.CompressSnapshots {
		snapOpts = append(snapOpts, snapshot.WithCompression())
	}

	id := uuid.NewString()
	return &Framework{
		cfg:        cfg,
		log:        opts.Logger.With(zap.String("instance", id)),
		clk:        opts.Clock,
		snapshots:  snapshot.NewManager(opts.Store, snapOpts...),
		metrics:    opts.Metrics,
		instanceID: id,
		jobs:       make(map[types.JobID]*job.Job),
		nextID:     1,
		loopDone:   make(chan struct{}),
	}, nil
}

// InstanceID 本次程序的識別碼
func (f *Framework) InstanceID() string { return f.instanceID }

// Start 開啟 journal、恢復任務並啟動 checkpoint loop
func (f *Framework) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.started = true
	f.mu.Unlock()

	jr, err := journal.Open(f.cfg.JournalDir, f.cfg.Journal)
	if err != nil {
		f.abort()
		return fmt.Errorf("failed to open journal: %w", err)
	}
	f.journal = jr
	f.recorder = &recorder{log: f.log, journal: jr, metrics: f.metrics}

	if err := f.recover(ctx); err != nil {
		jr.Close()
		f.abort()
		return fmt.Errorf("recovery failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	f.loopCancel = cancel
	if f.cfg.CheckpointInterval > 0 {
		go f.checkpointLoop(loopCtx)
	} else {
		close(f.loopDone)
	}

	f.log.Info("Framework started",
		zap.Int("jobs", f.numJobs()),
		zap.Duration("checkpoint_interval", f.cfg.CheckpointInterval))
	return nil
}

// Stop 優雅關閉：detach 任務、最後一次 checkpoint、關閉 journal
func (f *Framework) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.started || f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	f.log.Info("Stopping framework...")

	if f.loopCancel != nil {
		f.loopCancel()
	}
	<-f.loopDone

	var result *multierror.Error
	for _, j := range f.jobList() {
		if err := j.Detach(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("job %d: failed to detach: %w", j.ID(), err))
		}
	}
	if err := f.Checkpoint(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("final checkpoint: %w", err))
	}
	if err := f.journal.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close journal: %w", err))
	}

	f.log.Info("Framework stopped")
	return result.ErrorOrNil()
}

// ============================================================================
// 任務管理
// ============================================================================

// SubmitJob 建立並啟動新任務，回傳分配的 job id
//
// 任務啟動前會先寫入初始快照，確保崩潰後能恢復。
func (f *Framework) SubmitJob(ctx context.Context, spec types.JobSpec) (types.JobID, error) {
	if err := spec.Validate(); err != nil {
		return 0, fmt.Errorf("invalid job spec: %w", err)
	}

	f.mu.Lock()
	if !f.started || f.stopped {
		f.mu.Unlock()
		return 0, ErrNotRunning
	}
	id := f.nextID
	f.nextID++
	j, err := job.New(id, spec, f.jobOptions())
	if err != nil {
		f.mu.Unlock()
		return 0, err
	}
	f.jobs[id] = j
	f.mu.Unlock()

	if err := f.writeSnapshot(ctx, j); err != nil {
		f.mu.Lock()
		delete(f.jobs, id)
		f.mu.Unlock()
		return 0, err
	}
	f.metrics.RecordStateChange("", types.StateInitialized)

	if err := j.Start(); err != nil {
		return id, fmt.Errorf("failed to start job %d: %w", id, err)
	}
	f.log.Info("Job submitted", zap.Int64("job_id", int64(id)), zap.String("job_name", spec.Name))
	return id, nil
}

// PendingTasks 取出所有任務目前待送出的 task（依 job id 排序）
func (f *Framework) PendingTasks() []types.TaskRequest {
	out := []types.TaskRequest{}
	for _, j := range f.jobList() {
		out = append(out, j.PendingTasks()...)
	}
	return out
}

// StatusUpdate 依 task id 中的 job id 將 worker 回報路由到對應任務
func (f *Framework) StatusUpdate(ctx context.Context, state types.TaskState, taskID string, data []byte) error {
	ref, err := job.ParseTaskID(taskID)
	if err != nil {
		f.metrics.RecordProtocolError()
		return &job.ProtocolError{TaskID: taskID, Reason: "malformed task id", Err: err}
	}

	j, err := f.lookup(ref.JobID)
	if err != nil {
		return err
	}

	err = j.ProcessIncomingMessages(ctx, state, taskID, data)
	if errors.Is(err, job.ErrProtocol) {
		f.metrics.RecordProtocolError()
		f.log.Warn("Rejected worker message", zap.String("task_id", taskID), zap.Error(err))
	}
	return err
}

// PauseJob 暫停任務
func (f *Framework) PauseJob(id types.JobID) error {
	j, err := f.lookup(id)
	if err != nil {
		return err
	}
	j.Pause()
	return nil
}

// ResumeJob 恢復任務
func (f *Framework) ResumeJob(id types.JobID) error {
	j, err := f.lookup(id)
	if err != nil {
		return err
	}
	j.Resume()
	return nil
}

// StopJob 終止任務
func (f *Framework) StopJob(id types.JobID) error {
	j, err := f.lookup(id)
	if err != nil {
		return err
	}
	j.Stop()
	return nil
}

// JobStatus 取得單一任務狀態
func (f *Framework) JobStatus(id types.JobID) (types.Status, error) {
	j, err := f.lookup(id)
	if err != nil {
		return types.Status{}, err
	}
	return j.Status(), nil
}

// ListJobs 所有任務狀態（依 job id 排序）
func (f *Framework) ListJobs() []types.Status {
	jobs := f.jobList()
	out := make([]types.Status, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Status())
	}
	return out
}

// Snapshot 取得單一任務的快照文件
func (f *Framework) Snapshot(id types.JobID) ([]byte, error) {
	j, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	return j.Snapshot()
}

// ============================================================================
// 內部輔助方法
// ============================================================================

// abort 啟動失敗後的實例不可再使用
func (f *Framework) abort() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *Framework) jobOptions() job.Options {
	return job.Options{
		Logger:       f.log,
		Observer:     f.recorder,
		Clock:        f.clk,
		Retry:        f.cfg.Retry,
		SplitTimeout: f.cfg.SplitTimeout,
		Resources:    f.cfg.Resources,
	}
}

func (f *Framework) lookup(id types.JobID) (*job.Job, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return j, nil
}

func (f *Framework) jobList() []*job.Job {
	f.mu.RLock()
	out := make([]*job.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].ID() < out[b].ID() })
	return out
}

func (f *Framework) numJobs() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.jobs)
}

func (f *Framework) writeSnapshot(ctx context.Context, j *job.Job) error {
	data, err := j.Snapshot()
	if err != nil {
		return fmt.Errorf("job %d: %w", j.ID(), err)
	}
	if err := f.snapshots.Write(ctx, j.ID(), data); err != nil {
		return fmt.Errorf("job %d: %w", j.ID(), err)
	}
	return nil
}

// updateStateMetrics 以目前狀態重新計算 faleiro_jobs
func (f *Framework) updateStateMetrics() {
	counts := make(map[types.JobState]int)
	for _, j := range f.jobList() {
		counts[j.State()]++
	}
	f.metrics.UpdateJobStates(counts)
}
