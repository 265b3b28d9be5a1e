// ============================================================================
// Faleiro Job - 單一最佳化任務的協調核心
// ============================================================================
//
// Package: internal/job
// 文件: job.go
// 功能: 將一個最佳化問題切分為多個 partition，分派為 task，彙整結果
//
// 任務流程:
//   1. 送出 split task（"{jobId}_div"），等待 worker 回傳 partition 描述
//   2. 逐一為尚未完成的 partition 送出 task（"{jobId}_{idx}"）
//   3. 收集每個 partition 的分數，維護最佳分數與歷史
//   4. 全部完成後轉為 DONE
//
// 狀態機:
//   INITIALIZED --Start--> RUNNING <--Pause/Resume--> PAUSED
//   RUNNING/PAUSED --全部完成--> DONE
//   任何狀態 --Stop--> STOP
//
// 並發模型:
//   - 一個背景 goroutine 執行任務迴圈（run）
//   - 排程器透過 PendingTasks() 拉取 task
//   - worker 結果透過 ProcessIncomingMessages() 從任意 goroutine 送入
//   - 暫停/停止以 channel 與 context 通知，不做輪詢
//
// 恢復:
//   Snapshot() 產生持久化文件；Restore() 重建任務，已完成的 partition 不會重送
//
// ============================================================================

package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// Options 任務的可注入依賴與行為設定
type Options struct {
	Logger       *zap.Logger
	Observer     Observer
	Clock        clock.Clock
	Retry        RetryPolicy
	SplitTimeout time.Duration    // 0 代表無限等待 split 結果
	Resources    *types.Resources // 未指定時使用 types.DefaultResources()
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	return o
}

// Job 單一最佳化任務
type Job struct {
	id            types.JobID
	name          string
	taskName      string
	taskSeconds   int
	params        json.RawMessage
	requestedDivs int
	resources     types.Resources
	startedAt     int64

	opts     Options
	log      *zap.Logger
	clk      clock.Clock
	observer Observer

	// mu 保護以下生命週期欄位
	mu       sync.Mutex
	state    types.JobState
	stateCh  chan struct{} // 每次狀態變更時關閉並替換
	launched bool

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	queue   *TaskQueue
	results *resultState
	retries *retryTracker
}

// New 依提交參數建立任務，狀態為 INITIALIZED
func New(id types.JobID, spec types.JobSpec, opts Options) (*Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job spec: %w", err)
	}
	opts = opts.withDefaults()

	res := types.DefaultResources()
	switch {
	case spec.Resources != nil:
		res = *spec.Resources
	case opts.Resources != nil:
		res = *opts.Resources
	}

	j := newJob(id, opts)
	j.name = spec.Name
	j.taskName = spec.TaskName
	j.taskSeconds = spec.TaskSeconds
	j.params = normalizeParams(spec.Params)
	j.requestedDivs = spec.Divisions
	j.resources = res
	j.startedAt = j.clk.Now().UnixMilli()
	j.state = types.StateInitialized
	j.results = newResultState()
	return j, nil
}

func newJob(id types.JobID, opts Options) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		id:       id,
		opts:     opts,
		log:      opts.Logger.With(zap.Int64("job_id", int64(id))),
		clk:      opts.Clock,
		observer: opts.Observer,
		stateCh:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		queue:    NewTaskQueue(),
		retries:  newRetryTracker(),
	}
}

func normalizeParams(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage("null")
	}
	return append(json.RawMessage(nil), p...)
}

// ============================================================================
// 生命週期
// ============================================================================

// Start 啟動任務迴圈
//
// 新任務由 INITIALIZED 轉為 RUNNING；恢復的 RUNNING/PAUSED 任務維持原狀態。
// 已終止、已啟動或已 detach 的任務回傳錯誤。
func (j *Job) Start() error {
	j.mu.Lock()
	switch {
	case j.launched:
		j.mu.Unlock()
		return ErrAlreadyStarted
	case j.state.IsTerminal():
		j.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrJobFinished, j.state)
	case j.ctx.Err() != nil:
		j.mu.Unlock()
		return ErrDetached
	}

	j.launched = true
	if j.state == types.StateInitialized {
		j.setStateLocked(types.StateRunning)
	}
	to := j.state
	j.mu.Unlock()

	j.log.Info("job started", zap.String("state", string(to)))

	go j.run()
	return nil
}

// Pause 暫停送出新的 task；已送出的 task 照常回報
func (j *Job) Pause() {
	j.transition(types.StatePaused)
}

// Resume 恢復送出 task
func (j *Job) Resume() {
	j.transition(types.StateRunning)
}

func (j *Job) transition(to types.JobState) {
	j.mu.Lock()
	from := j.state
	if from.IsTerminal() || from == to {
		j.mu.Unlock()
		return
	}
	j.setStateLocked(to)
	j.mu.Unlock()

	j.log.Info("job state changed", zap.String("from", string(from)), zap.String("to", string(to)))
}

// Stop 無條件轉為 STOP，並取消所有等待
func (j *Job) Stop() {
	j.mu.Lock()
	from := j.state
	j.setStateLocked(types.StateStop)
	j.mu.Unlock()

	j.cancel()
	if from != types.StateStop {
		j.log.Info("job stopped", zap.String("from", string(from)))
	}
}

// Detach 結束任務迴圈但不改變狀態，用於程序關閉後由快照恢復
func (j *Job) Detach(ctx context.Context) error {
	j.cancel()
	return j.Wait(ctx)
}

// Wait 等待任務迴圈結束；未啟動的任務立即回傳
func (j *Job) Wait(ctx context.Context) error {
	j.mu.Lock()
	launched := j.launched
	j.mu.Unlock()
	if !launched {
		return nil
	}

	select {
	case <-j.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markDone 全部 partition 完成；STOP 優先於 DONE
func (j *Job) markDone() {
	j.mu.Lock()
	from := j.state
	if from.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.setStateLocked(types.StateDone)
	j.mu.Unlock()

	best, loc := j.results.best()
	j.log.Info("job done", zap.Float64("best_energy", best), zap.String("best_location", loc))
}

// setStateLocked 呼叫者需持有 j.mu；狀態事件在鎖內送出以保持順序
func (j *Job) setStateLocked(s types.JobState) {
	from := j.state
	j.state = s
	close(j.stateCh)
	j.stateCh = make(chan struct{})
	if from != s {
		j.observer.StateChanged(j.id, from, s)
	}
}

// ============================================================================
// 查詢
// ============================================================================

func (j *Job) ID() types.JobID { return j.id }

func (j *Job) Name() string { return j.name }

// State 目前狀態
func (j *Job) State() types.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// IsDone 狀態為 DONE 或 STOP
func (j *Job) IsDone() bool {
	return j.State().IsTerminal()
}

// PendingTasks 取出目前累積的所有 task 請求
func (j *Job) PendingTasks() []types.TaskRequest {
	return j.queue.Drain()
}

// Queue 提供排程器等待新 task 的訊號
func (j *Job) Queue() *TaskQueue {
	return j.queue
}

// NumTotalTasks partition 總數，split 完成前為 -1
func (j *Job) NumTotalTasks() int {
	return j.results.total()
}

// NumFinishedTasks 已完成的 partition 數
func (j *Job) NumFinishedTasks() int {
	return j.results.completed()
}

// Status 任務狀態視圖
func (j *Job) Status() types.Status {
	doc, err := j.SnapshotDoc()
	if err != nil {
		j.log.Error("failed to read result state", zap.Error(err))
		return types.Status{JobID: j.id, JobName: j.name, CurrentState: j.State(), NumTotalTasks: j.results.total()}
	}
	return doc.Status
}
