// ============================================================================
// Faleiro 恢復測試套件
// ============================================================================
//
// Package: test/integration
// 文件: recovery_test.go
// 功能: framework + executor + 檔案儲存的端到端恢復測試
//
// TestEndToEndRecovery:
//   - 提交 10 個任務，每個 4 個 partition，模擬 10% 失敗率
//   - 等待全部 DONE
//   - 重新啟動後，每個任務的狀態、最佳分數與完成位元不變
//
// TestResumeAfterShutdownMidRun:
//   - executor 處理到一半時關閉系統
//   - 重新啟動並接上新的 executor
//   - 已完成的 partition 不重送，所有任務最後完成
//
// ============================================================================

package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

func TestEndToEndRecovery(t *testing.T) {
	dir := t.TempDir()

	sys := startSystem(t, dir, systemConfig{workers: 4, failureRate: 0.1, maxWork: 2 * time.Millisecond, seed: 7})
	ids := submitJobs(t, sys.fw, 10, 4)

	require.Eventually(t, func() bool { return allDone(sys.fw) }, 20*time.Second, 20*time.Millisecond)
	before := statusByID(sys.fw)
	sys.stop(t)

	for _, id := range ids {
		st := before[id]
		assert.Equal(t, 4, st.NumTotalTasks)
		assert.Equal(t, 4, st.NumFinishedTasks)
		assert.GreaterOrEqual(t, len(st.EnergyHistory), 4)
	}

	restarted := startSystem(t, dir, systemConfig{})
	defer restarted.stop(t)

	after := statusByID(restarted.fw)
	require.Len(t, after, len(ids))
	for _, id := range ids {
		b, a := before[id], after[id]
		assert.Equal(t, types.StateDone, a.CurrentState, "job %d", id)
		assert.Equal(t, b.BestEnergy, a.BestEnergy, "job %d", id)
		assert.Equal(t, b.BestLocation, a.BestLocation, "job %d", id)
		assert.Equal(t, b.NumFinishedTasks, a.NumFinishedTasks, "job %d", id)
		assert.Equal(t, b.EnergyHistory, a.EnergyHistory, "job %d", id)
	}

	// 已完成的任務不再送出 task
	assert.Empty(t, restarted.fw.PendingTasks())

	// 新任務的 id 接續在恢復的最大值之後
	next := submitJobs(t, restarted.fw, 1, 2)
	assert.Equal(t, ids[len(ids)-1]+1, next[0])
}

func TestResumeAfterShutdownMidRun(t *testing.T) {
	dir := t.TempDir()

	sys := startSystem(t, dir, systemConfig{workers: 2, maxWork: 20 * time.Millisecond, seed: 3, compress: true})
	ids := submitJobs(t, sys.fw, 3, 8)

	// 至少有部分 partition 完成後關閉
	require.Eventually(t, func() bool {
		done := 0
		for _, st := range sys.fw.ListJobs() {
			done += st.NumFinishedTasks
		}
		return done >= 4
	}, 10*time.Second, 5*time.Millisecond)
	sys.stop(t)

	mid := startSystem(t, dir, systemConfig{})
	progress := statusByID(mid.fw)
	finishedBefore := 0
	for _, st := range progress {
		finishedBefore += st.NumFinishedTasks
	}
	assert.GreaterOrEqual(t, finishedBefore, 4)

	// 待送出的 task 只包含尚未完成的 partition
	pending := 0
	for _, task := range mid.fw.PendingTasks() {
		pending++
		assert.Contains(t, ids, task.JobID)
	}
	assert.LessOrEqual(t, pending, 3*8-finishedBefore)
	mid.stop(t)

	final := startSystem(t, dir, systemConfig{workers: 4, maxWork: time.Millisecond, seed: 11})
	defer final.stop(t)

	require.Eventually(t, func() bool { return allDone(final.fw) }, 20*time.Second, 20*time.Millisecond)
	for _, st := range final.fw.ListJobs() {
		assert.Equal(t, 8, st.NumTotalTasks)
		assert.Equal(t, 8, st.NumFinishedTasks)
	}
}
