package job

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// run 任務主迴圈，由 Start 以 goroutine 啟動
func (j *Job) run() {
	defer close(j.loopDone)

	err := j.orchestrate(j.ctx)
	switch {
	case err == nil:
	case errors.Is(err, errStopped), errors.Is(err, context.Canceled):
		j.log.Info("job loop exited", zap.String("state", string(j.State())))
	default:
		j.log.Error("job loop failed", zap.Error(err))
	}
}

func (j *Job) orchestrate(ctx context.Context) error {
	if err := j.awaitSplit(ctx); err != nil {
		return err
	}

	total := j.results.total()
	for idx := 0; idx < total; idx++ {
		if err := j.waitRunnable(ctx); err != nil {
			return err
		}
		if j.results.isFinished(idx) {
			continue
		}
		req, err := j.partitionRequest(idx)
		if err != nil {
			return err
		}
		j.emit(req, false)
	}

	select {
	case <-j.results.allDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	j.markDone()
	return nil
}

// awaitSplit 送出 split task 並等待結果；恢復時已有結果則直接返回
//
// 設定 SplitTimeout 時，逾時會依重試策略重新送出 split task。
func (j *Job) awaitSplit(ctx context.Context) error {
	if j.results.splitRecorded() {
		return nil
	}

	taskID := SplitTaskID(j.id)
	for issued := 0; ; issued++ {
		if err := j.waitRunnable(ctx); err != nil {
			return err
		}
		req, err := j.splitRequest()
		if err != nil {
			return err
		}
		j.emit(req, issued > 0)

		var timeout <-chan time.Time
		if j.opts.SplitTimeout > 0 {
			timeout = j.clk.After(j.opts.SplitTimeout)
		}

		select {
		case <-j.results.splitReady:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
		}

		attempt := j.retries.next(taskID)
		j.log.Warn("split result timed out",
			zap.Duration("timeout", j.opts.SplitTimeout),
			zap.Int("attempt", attempt))
		if j.opts.Retry.Exhausted(attempt) {
			j.exhaust(taskID, attempt)
			return ErrRetriesExhausted
		}
		if err := j.sleep(ctx, j.opts.Retry.Delay(attempt)); err != nil {
			return err
		}
		if j.results.splitRecorded() {
			return nil
		}
	}
}

// waitRunnable 暫停時阻塞直到狀態改變；STOP/DONE 或 detach 時回傳 errStopped
func (j *Job) waitRunnable(ctx context.Context) error {
	for {
		j.mu.Lock()
		st, changed := j.state, j.stateCh
		j.mu.Unlock()

		switch st {
		case types.StateStop, types.StateDone:
			return errStopped
		case types.StatePaused:
			select {
			case <-changed:
			case <-ctx.Done():
				return ctx.Err()
			case <-j.ctx.Done():
				return errStopped
			}
		default:
			if j.ctx.Err() != nil {
				return errStopped
			}
			return nil
		}
	}
}

// sleep 依注入的時鐘等待；任務停止或 ctx 取消時提前返回
func (j *Job) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-j.clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-j.ctx.Done():
		return errStopped
	}
}

func (j *Job) emit(req types.TaskRequest, retry bool) {
	j.queue.Put(req)
	j.observer.TaskEmitted(j.id, req.TaskID, retry)
	j.log.Debug("task emitted", zap.String("task_id", req.TaskID), zap.Bool("retry", retry))
}

// exhaust 重試次數用盡：停止任務
func (j *Job) exhaust(taskID string, attempt int) {
	j.log.Error("retries exhausted, stopping job",
		zap.String("task_id", taskID),
		zap.Int("attempts", attempt-1))
	j.observer.RetriesExhausted(j.id, taskID)
	j.Stop()
}
