package framework

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ChuLiYu/faleiro/internal/job"
	"github.com/ChuLiYu/faleiro/internal/journal"
	"github.com/ChuLiYu/faleiro/internal/metrics"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// recorder 實作 job.Observer：將進度寫入 journal 並更新指標
//
// 回呼發生在任務內部的鎖中，這裡只做 journal 追加與指標更新。
type recorder struct {
	log     *zap.Logger
	journal *journal.Journal
	metrics *metrics.Collector
}

var _ job.Observer = (*recorder)(nil)

func (r *recorder) TaskEmitted(_ types.JobID, taskID string, retry bool) {
	kind := job.KindPartition.String()
	if ref, err := job.ParseTaskID(taskID); err == nil {
		kind = ref.Kind.String()
	}
	r.metrics.RecordTaskEmitted(kind, retry)
}

// SplitRecorded split 結果立即寫入磁碟，partition 任務依賴它
func (r *recorder) SplitRecorded(id types.JobID, divisions []json.RawMessage) {
	r.append(journal.Event{
		Type:      journal.EventSplit,
		JobID:     id,
		Divisions: divisions,
	}, true)
}

func (r *recorder) PartitionCompleted(id types.JobID, res job.PartitionResult) {
	r.append(journal.Event{
		Type:       journal.EventPartition,
		JobID:      id,
		Partition:  res.Partition,
		Score:      res.Score,
		Location:   res.Location,
		FinishedAt: res.FinishedAt,
	}, false)
	r.metrics.RecordPartitionCompleted(id, res.BestEnergy)
}

func (r *recorder) StateChanged(id types.JobID, from, to types.JobState) {
	r.append(journal.Event{
		Type:  journal.EventState,
		JobID: id,
		State: to,
	}, true)
	r.metrics.RecordStateChange(from, to)
}

func (r *recorder) RetriesExhausted(id types.JobID, taskID string) {
	r.metrics.RecordRetriesExhausted()
	r.log.Warn("Retries exhausted", zap.Int64("job_id", int64(id)), zap.String("task_id", taskID))
}

func (r *recorder) append(e journal.Event, force bool) {
	if _, err := r.journal.Append(e, force); err != nil {
		r.log.Error("Failed to append journal event",
			zap.String("type", string(e.Type)),
			zap.Int64("job_id", int64(e.JobID)),
			zap.Error(err))
	}
}
