package framework

import (
	"context"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// TaskSource 實作：讓同一程序內的 executor 直接拉取 task
// ============================================================================

// Poll 取出所有待送出的 task；Framework 停止後回傳 ErrNotRunning
func (f *Framework) Poll(_ context.Context) ([]types.TaskRequest, error) {
	f.mu.RLock()
	running := f.started && !f.stopped
	f.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}
	return f.PendingTasks(), nil
}

// Report 將 executor 的結果轉給 StatusUpdate
func (f *Framework) Report(ctx context.Context, state types.TaskState, taskID string, data []byte) error {
	return f.StatusUpdate(ctx, state, taskID, data)
}
