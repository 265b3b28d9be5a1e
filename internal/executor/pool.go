// ============================================================================
// Faleiro Executor Pool - 並發任務執行器
// ============================================================================
//
// Package: internal/executor
// 文件: pool.go
// 功能: 從 TaskSource 拉取 task，分發給固定數量的 worker 執行
//
// 架構組件:
//   ┌─────────────┐
//   │ TaskSource  │ <--Poll()-- fetchLoop --> taskCh
//   └─────────────┘                              │
//         ↑                             ┌────────┴───────┐
//      Report()                         │ worker 1..N    │
//         └─────────────────────────────┤ Split / Anneal │
//                                       └────────────────┘
//
// 生命週期:
//   1. NewPool() - 建立 Pool
//   2. Start(ctx) - 啟動 fetchLoop 與 N 個 worker
//   3. Stop() - 停止拉取，worker 完成或回報剩餘 task 後退出
//
// 並發控制:
//   - taskCh 只由 fetchLoop 寫入與關閉，避免向已關閉 channel 發送
//   - 沒有 task 時依注入的時鐘等待 PollInterval
//
// ============================================================================

package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示 Pool 已關閉
	ErrPoolClosed = errors.New("executor pool is closed")
	// ErrPoolStarted 表示 Pool 已啟動
	ErrPoolStarted = errors.New("executor pool already started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Pool 配置
type Config struct {
	Workers       int           // worker 數量
	PollInterval  time.Duration // 沒有 task 或拉取失敗時的等待時間
	BufferSize    int           // taskCh 緩衝大小
	ReportTimeout time.Duration // 單次回報的逾時
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.BufferSize < 0 {
		c.BufferSize = 0
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = 10 * time.Second
	}
	return c
}

// Stats 執行統計
type Stats struct {
	Finished     int64
	Failed       int64
	ReportErrors int64
}

type counters struct {
	finished     atomic.Int64
	failed       atomic.Int64
	reportErrors atomic.Int64
}

// Pool 代表 executor 池
type Pool struct {
	cfg    Config
	source TaskSource
	solver Solver
	log    *zap.Logger
	clk    clock.Clock
	nodeID string

	stats counters

	mu      sync.Mutex // 保護 started 與 stopped
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool 建立新的 executor 池
func NewPool(cfg Config, source TaskSource, solver Solver, logger *zap.Logger, clk clock.Clock) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	nodeID := uuid.NewString()
	return &Pool{
		cfg:    cfg.withDefaults(),
		source: source,
		solver: solver,
		log:    logger.With(zap.String("node_id", nodeID)),
		clk:    clk,
		nodeID: nodeID,
	}
}

// NodeID 本節點識別碼
func (p *Pool) NodeID() string { return p.nodeID }

// Start 啟動 fetchLoop 與 worker；ctx 取消等同 Stop
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolClosed
	}
	if p.started {
		return ErrPoolStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	taskCh := make(chan types.TaskRequest, p.cfg.BufferSize)

	for i := 0; i < p.cfg.Workers; i++ {
		w := newWorker(i, taskCh, p)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.fetchLoop(ctx, taskCh)
	}()

	p.started = true
	p.log.Info("executor pool started", zap.Int("workers", p.cfg.Workers))
	return nil
}

// Stop 停止拉取並等待所有 worker 退出
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	s := p.Stats()
	p.log.Info("executor pool stopped",
		zap.Int64("finished", s.Finished),
		zap.Int64("failed", s.Failed))
}

// Stats 目前的執行統計
func (p *Pool) Stats() Stats {
	return Stats{
		Finished:     p.stats.finished.Load(),
		Failed:       p.stats.failed.Load(),
		ReportErrors: p.stats.reportErrors.Load(),
	}
}

// fetchLoop 唯一寫入 taskCh 的 goroutine，結束時關閉 taskCh
func (p *Pool) fetchLoop(ctx context.Context, taskCh chan<- types.TaskRequest) {
	defer close(taskCh)

	for {
		tasks, err := p.source.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.log.Warn("failed to poll tasks", zap.Error(err))
		}

		for i, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				// 尚未交給 worker 的 task 回報為遺失
				for _, t := range tasks[i:] {
					p.lose(ctx, t)
				}
				return
			}
		}

		if len(tasks) > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-p.clk.After(p.cfg.PollInterval):
		}
	}
}

func (p *Pool) lose(ctx context.Context, task types.TaskRequest) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ReportTimeout)
	defer cancel()
	if err := p.source.Report(rctx, types.TaskLost, task.TaskID, nil); err != nil {
		p.stats.reportErrors.Add(1)
		p.log.Error("failed to report lost task", zap.String("task_id", task.TaskID), zap.Error(err))
	}
}
