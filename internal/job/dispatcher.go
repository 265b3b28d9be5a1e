package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ProcessIncomingMessages 處理 worker 回報的 task 狀態
//
//   - 失敗（ERROR/FAILED/LOST）：依重試策略重新排入同一個 task
//   - 成功但沒有 payload：忽略
//   - split 結果：記錄 partition 描述並放行任務迴圈
//   - partition 結果：記錄分數並設定完成位元
//
// task id 不屬於本任務或 payload 無法解析時回傳 ProtocolError。
func (j *Job) ProcessIncomingMessages(ctx context.Context, state types.TaskState, taskID string, data []byte) error {
	ref, err := ParseTaskID(taskID)
	if err != nil {
		return protocolErr(taskID, "malformed task id", err)
	}
	if ref.JobID != j.id {
		return protocolErr(taskID, fmt.Sprintf("job id %d does not match %d", ref.JobID, j.id), ErrForeignTask)
	}

	if state.IsFailure() {
		return j.reschedule(ctx, ref, state)
	}
	if state != types.TaskFinished {
		return protocolErr(taskID, fmt.Sprintf("unknown task state %q", state), nil)
	}

	if len(data) == 0 {
		j.log.Debug("finished task without payload", zap.String("task_id", taskID))
		return nil
	}
	if j.IsDone() {
		j.log.Debug("ignoring result for finished job", zap.String("task_id", taskID))
		return nil
	}

	var payload types.CompletionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return protocolErr(taskID, "malformed completion payload", err)
	}

	if ref.Kind == KindSplit {
		return j.handleSplitResult(taskID, payload)
	}
	return j.handlePartitionResult(ref, payload)
}

func (j *Job) handleSplitResult(taskID string, payload types.CompletionPayload) error {
	if payload.Divisions == nil {
		return protocolErr(taskID, "split result without divisions", nil)
	}

	recorded := j.results.recordSplit(payload.Divisions, func(divs []json.RawMessage) {
		j.observer.SplitRecorded(j.id, divs)
	})
	j.retries.reset(taskID)
	if !recorded {
		j.log.Debug("duplicate split result ignored", zap.String("task_id", taskID))
		return nil
	}
	j.log.Info("split recorded", zap.Int("partitions", len(payload.Divisions)))
	return nil
}

func (j *Job) handlePartitionResult(ref TaskRef, payload types.CompletionPayload) error {
	taskID := ref.TaskID()
	if payload.FitnessScore == nil {
		return protocolErr(taskID, "partition result without fitness_score", nil)
	}
	if payload.BestLocation == nil {
		return protocolErr(taskID, "partition result without best_location", nil)
	}

	now := j.clk.Now().UnixMilli()
	improved, err := j.results.recordPartition(ref.Partition, *payload.FitnessScore, *payload.BestLocation, now,
		func(res PartitionResult) { j.observer.PartitionCompleted(j.id, res) })
	if err != nil {
		return protocolErr(taskID, "cannot record partition result", err)
	}
	j.retries.reset(taskID)

	j.log.Debug("partition finished",
		zap.Int("partition", ref.Partition),
		zap.Float64("score", *payload.FitnessScore),
		zap.Bool("improved", improved))
	return nil
}

// reschedule 重新排入失敗的 task
//
// 任務已停止、已完成或該 partition 已有結果時不重排。
func (j *Job) reschedule(ctx context.Context, ref TaskRef, state types.TaskState) error {
	taskID := ref.TaskID()
	if j.State() == types.StateStop {
		return nil
	}

	attempt := j.retries.next(taskID)
	j.log.Warn("task failed, rescheduling",
		zap.String("task_id", taskID),
		zap.String("task_state", string(state)),
		zap.Int("attempt", attempt))

	if j.opts.Retry.Exhausted(attempt) {
		j.exhaust(taskID, attempt)
		return fmt.Errorf("%w: task %s after %d retries", ErrRetriesExhausted, taskID, attempt-1)
	}
	// 已接受的重排只會因 STOP、DONE 或 detach 放棄，不受回報端的期限影響
	wait := context.WithoutCancel(ctx)
	if err := j.sleep(wait, j.opts.Retry.Delay(attempt)); err != nil {
		return ignoreStopped(err)
	}
	if err := j.waitRunnable(wait); err != nil {
		return ignoreStopped(err)
	}

	var (
		req types.TaskRequest
		err error
	)
	switch ref.Kind {
	case KindSplit:
		if j.results.splitRecorded() {
			return nil
		}
		req, err = j.splitRequest()
	default:
		if j.results.isFinished(ref.Partition) {
			return nil
		}
		req, err = j.partitionRequest(ref.Partition)
	}
	if err != nil {
		return protocolErr(taskID, "cannot rebuild task", err)
	}
	j.emit(req, true)
	return nil
}

func ignoreStopped(err error) error {
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}
