package transport

import (
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// Scheduler 服務訊息
// ============================================================================

// Action 任務控制指令
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

type PendingTasksRequest struct {
	NodeID string `json:"node_id"`
}

type PendingTasksResponse struct {
	Tasks []types.TaskRequest `json:"tasks"`
}

type ReportStatusRequest struct {
	NodeID string          `json:"node_id"`
	TaskID string          `json:"task_id"`
	State  types.TaskState `json:"state"`
	Data   []byte          `json:"data,omitempty"` // completion payload，原樣轉交
}

type ReportStatusResponse struct{}

type SubmitJobRequest struct {
	Spec types.JobSpec `json:"spec"`
}

type SubmitJobResponse struct {
	JobID types.JobID `json:"job_id"`
}

// JobStatusRequest JobID 為 0 時回傳所有任務
type JobStatusRequest struct {
	JobID types.JobID `json:"job_id"`
}

type JobStatusResponse struct {
	Jobs []types.Status `json:"jobs"`
}

type ControlJobRequest struct {
	JobID  types.JobID `json:"job_id"`
	Action Action      `json:"action"`
}

type ControlJobResponse struct {
	Status types.Status `json:"status"`
}
