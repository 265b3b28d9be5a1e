package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

// ============================================================================
// Checkpoint
// ============================================================================

// Checkpoint 寫入所有任務的快照並壓縮 journal
//
// 流程：
//  1. 旋轉 journal，之後的事件寫入新分段
//  2. 寫入每個任務的快照（包含旋轉前的所有進度）
//  3. 全部成功才刪除已封存的分段；任一失敗則保留，下次恢復時重放
func (f *Framework) Checkpoint(ctx context.Context) error {
	f.ckptMu.Lock()
	defer f.ckptMu.Unlock()

	start := time.Now()
	sealed, err := f.journal.Rotate()
	if err != nil {
		return fmt.Errorf("failed to rotate journal: %w", err)
	}

	jobs := f.jobList()
	var result *multierror.Error
	for _, j := range jobs {
		if err := f.writeSnapshot(ctx, j); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		f.log.Error("Checkpoint incomplete, keeping journal segments",
			zap.Int("sealed_segment", sealed),
			zap.Error(err))
		return err
	}

	if err := f.journal.Compact(sealed); err != nil {
		return fmt.Errorf("failed to compact journal: %w", err)
	}

	d := time.Since(start)
	f.metrics.ObserveCheckpoint(d)
	f.updateStateMetrics()
	f.log.Debug("Checkpoint taken", zap.Duration("duration", d), zap.Int("jobs", len(jobs)))
	return nil
}

// checkpointLoop 以帶抖動的間隔執行 checkpoint，避免多個實例同時寫入儲存層
func (f *Framework) checkpointLoop(ctx context.Context) {
	defer close(f.loopDone)

	ticker := jitterbug.New(f.cfg.CheckpointInterval, &jitterbug.Norm{Stdev: f.cfg.CheckpointJitter})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.log.Info("Checkpoint loop stopped")
			return
		case <-ticker.C:
			if err := f.Checkpoint(ctx); err != nil {
				f.log.Error("Failed to take checkpoint", zap.Error(err))
			}
		}
	}
}
