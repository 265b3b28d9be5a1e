package job

import (
	"encoding/json"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// PartitionResult 一個 partition 完成時的結果
type PartitionResult struct {
	Partition  int
	Score      float64
	Location   string
	FinishedAt int64 // Unix 毫秒
	Improved   bool  // 是否刷新了最佳分數
	BestEnergy float64
}

// Observer 接收任務進度事件（日誌、journal、metrics）
//
// SplitRecorded 與 PartitionCompleted 在結果狀態的鎖內呼叫，StateChanged 在
// 狀態鎖內呼叫，因此事件順序與任務內部順序一致；實作不可回呼 Job。
type Observer interface {
	TaskEmitted(id types.JobID, taskID string, retry bool)
	SplitRecorded(id types.JobID, divisions []json.RawMessage)
	PartitionCompleted(id types.JobID, res PartitionResult)
	StateChanged(id types.JobID, from, to types.JobState)
	RetriesExhausted(id types.JobID, taskID string)
}

// NopObserver 不做任何事
type NopObserver struct{}

func (NopObserver) TaskEmitted(types.JobID, string, bool) {}
func (NopObserver) SplitRecorded(types.JobID, []json.RawMessage) {}
func (NopObserver) PartitionCompleted(types.JobID, PartitionResult) {}
func (NopObserver) StateChanged(types.JobID, types.JobState, types.JobState) {}
func (NopObserver) RetriesExhausted(types.JobID, string) {}
