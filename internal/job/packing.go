package job

import (
	"encoding/json"
	"fmt"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// splitRequest 建立 split task：要求 worker 切分問題
func (j *Job) splitRequest() (types.TaskRequest, error) {
	taskID := SplitTaskID(j.id)
	divs := j.requestedDivs
	return j.pack(taskID, types.TaskPayload{
		UID:         taskID,
		Name:        j.taskName,
		Command:     types.CommandSplit,
		ProblemData: j.params,
		Divisions:   &divs,
	})
}

// partitionRequest 建立第 idx 個 partition 的最佳化 task
//
// 每個 partition 的時間預算為 taskSeconds / (60 * partition 數) 分鐘。
func (j *Job) partitionRequest(idx int) (types.TaskRequest, error) {
	part, total, err := j.results.division(idx)
	if err != nil {
		return types.TaskRequest{}, fmt.Errorf("partition %d: %w", idx, err)
	}

	taskID := PartitionTaskID(j.id, idx)
	minutes := float64(j.taskSeconds) / (60.0 * float64(total))
	return j.pack(taskID, types.TaskPayload{
		UID:                taskID,
		Name:               j.taskName,
		Command:            types.CommandAnneal,
		ProblemData:        j.params,
		MinutesPerDivision: &minutes,
		Partition:          part,
	})
}

func (j *Job) pack(taskID string, payload types.TaskPayload) (types.TaskRequest, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.TaskRequest{}, fmt.Errorf("failed to encode payload for %s: %w", taskID, err)
	}
	return types.TaskRequest{
		TaskID:    taskID,
		JobID:     j.id,
		Name:      j.name + " " + taskID,
		Resources: j.resources,
		Data:      data,
	}, nil
}
