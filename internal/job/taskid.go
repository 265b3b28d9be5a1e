package job

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

const splitSuffix = "div"

// TaskKind task id 指向的工作類型
type TaskKind int

const (
	KindSplit TaskKind = iota + 1
	KindPartition
)

func (k TaskKind) String() string {
	switch k {
	case KindSplit:
		return "split"
	case KindPartition:
		return "partition"
	default:
		return "unknown"
	}
}

// TaskRef 解析後的 task id
type TaskRef struct {
	JobID     types.JobID
	Kind      TaskKind
	Partition int // 僅 KindPartition 有效
}

// SplitTaskID 格式為 "{jobId}_div"
func SplitTaskID(id types.JobID) string {
	return id.String() + "_" + splitSuffix
}

// PartitionTaskID 格式為 "{jobId}_{index}"
func PartitionTaskID(id types.JobID, idx int) string {
	return id.String() + "_" + strconv.Itoa(idx)
}

// ParseTaskID 解析 task id，只接受上面兩種格式
func ParseTaskID(taskID string) (TaskRef, error) {
	head, tail, ok := strings.Cut(taskID, "_")
	if !ok || strings.Contains(tail, "_") {
		return TaskRef{}, fmt.Errorf("task id %q: want {jobId}_{suffix}", taskID)
	}

	jobID, err := strconv.ParseInt(head, 10, 64)
	if err != nil || jobID < 0 {
		return TaskRef{}, fmt.Errorf("task id %q: invalid job id %q", taskID, head)
	}

	if tail == splitSuffix {
		return TaskRef{JobID: types.JobID(jobID), Kind: KindSplit}, nil
	}

	idx, err := strconv.Atoi(tail)
	if err != nil || idx < 0 {
		return TaskRef{}, fmt.Errorf("task id %q: invalid partition index %q", taskID, tail)
	}
	return TaskRef{JobID: types.JobID(jobID), Kind: KindPartition, Partition: idx}, nil
}

// TaskID 將 TaskRef 還原為字串
func (r TaskRef) TaskID() string {
	if r.Kind == KindSplit {
		return SplitTaskID(r.JobID)
	}
	return PartitionTaskID(r.JobID, r.Partition)
}
