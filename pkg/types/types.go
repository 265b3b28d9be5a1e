// Package types 定義了 faleiro 系統中使用的核心領域模型
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JobID 任務唯一識別碼（由框架分配的遞增整數）
type JobID int64

// String 以十進位表示 JobID，與 task id 前綴一致
func (id JobID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ============================================================================
// 任務狀態
// ============================================================================

// JobState 任務生命週期狀態
type JobState string

// 定義任務狀態常數
const (
	StateInitialized JobState = "INITIALIZED" // 已建立，尚未啟動
	StateRunning     JobState = "RUNNING"     // 執行中
	StatePaused      JobState = "PAUSED"      // 暫停：不再送出新的 task
	StateStop        JobState = "STOP"        // 使用者終止
	StateDone        JobState = "DONE"        // 全部 partition 完成
)

// IsTerminal 是否為終止狀態（DONE 或 STOP）
func (s JobState) IsTerminal() bool {
	return s == StateDone || s == StateStop
}

// ParseJobState 解析狀態字串，未知值回傳錯誤
func ParseJobState(s string) (JobState, error) {
	switch st := JobState(strings.ToUpper(strings.TrimSpace(s))); st {
	case StateInitialized, StateRunning, StatePaused, StateStop, StateDone:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job state %q", s)
	}
}

// TaskState 執行端回報的 task 狀態
type TaskState string

const (
	TaskFinished TaskState = "TASK_FINISHED"
	TaskError    TaskState = "TASK_ERROR"
	TaskFailed   TaskState = "TASK_FAILED"
	TaskLost     TaskState = "TASK_LOST"
)

// IsFailure ERROR / FAILED / LOST 皆視為失敗，需要重新排程
func (s TaskState) IsFailure() bool {
	return s == TaskError || s == TaskFailed || s == TaskLost
}

// ParseTaskState 解析 task 狀態字串
func ParseTaskState(s string) (TaskState, error) {
	switch st := TaskState(strings.ToUpper(strings.TrimSpace(s))); st {
	case TaskFinished, TaskError, TaskFailed, TaskLost:
		return st, nil
	default:
		return "", fmt.Errorf("unknown task state %q", s)
	}
}

// Command task payload 中的指令
type Command string

const (
	CommandSplit  Command = "divisions" // 要求 worker 將問題切分為 partition 描述
	CommandAnneal Command = "anneal"    // 在單一 partition 上執行最佳化
)

// ============================================================================
// 資源與 task 請求
// ============================================================================

// Resources 每個 task 需要的資源量
type Resources struct {
	CPUs    float64 `json:"num_cpu" yaml:"cpus"`
	MemMB   float64 `json:"num_mem" yaml:"mem_mb"`
	NetMbps float64 `json:"num_net_mbps" yaml:"net_mbps"`
	DiskMB  float64 `json:"num_disk" yaml:"disk_mb"`
	Ports   int     `json:"num_ports" yaml:"ports"`
}

// DefaultResources 預設資源：1 CPU、32 MB 記憶體
func DefaultResources() Resources {
	return Resources{CPUs: 1, MemMB: 32}
}

// TaskRequest 交給排程器的工作單元
type TaskRequest struct {
	TaskID    string    `json:"task_id"`
	JobID     JobID     `json:"job_id"`
	Name      string    `json:"name"`
	Resources Resources `json:"resources"`
	Data      []byte    `json:"data"` // 序列化後的 TaskPayload
}

// TaskPayload worker 收到的 task 內容
type TaskPayload struct {
	UID                string          `json:"uid"`
	Name               string          `json:"name"`
	Command            Command         `json:"command"`
	ProblemData        json.RawMessage `json:"problem_data"`
	Divisions          *int            `json:"divisions,omitempty"`            // 僅 split 使用
	MinutesPerDivision *float64        `json:"minutes_per_division,omitempty"` // 僅 anneal 使用
	Partition          json.RawMessage `json:"sstates,omitempty"`              // 僅 anneal 使用
}

// CompletionPayload worker 完成 task 後回傳的結果
//
// split 結果只帶 divisions；partition 結果帶 fitness_score 與 best_location。
type CompletionPayload struct {
	UID          string            `json:"uid"`
	FitnessScore *float64          `json:"fitness_score,omitempty"`
	BestLocation *string           `json:"best_location,omitempty"`
	Divisions    []json.RawMessage `json:"divisions,omitempty"`
}

// ============================================================================
// 提交、狀態與快照文件
// ============================================================================

// JobSpec 提交任務時的參數
type JobSpec struct {
	Name        string          `json:"job_name" yaml:"job_name"`
	TaskSeconds int             `json:"job_time" yaml:"job_time"`     // 每個 task 的時間預算（秒）
	TaskName    string          `json:"module_url" yaml:"module_url"` // worker 端的 task 名稱
	Params      json.RawMessage `json:"module_data" yaml:"-"`         // 問題參數，原樣轉交 worker
	Divisions   int             `json:"divisions,omitempty" yaml:"divisions"`
	Resources   *Resources      `json:"resources,omitempty" yaml:"resources"`
}

// Validate 檢查提交參數
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("job_name is required")
	}
	if s.TaskSeconds <= 0 {
		return fmt.Errorf("job_time must be positive, got %d", s.TaskSeconds)
	}
	if s.Divisions < 0 {
		return fmt.Errorf("divisions must not be negative, got %d", s.Divisions)
	}
	if len(s.Params) > 0 && !json.Valid(s.Params) {
		return fmt.Errorf("module_data is not valid JSON")
	}
	return nil
}

// Status 任務狀態視圖
type Status struct {
	JobID            JobID           `json:"job_id"`
	JobName          string          `json:"job_name"`
	StartingTime     int64           `json:"job_starting_time"`  // Unix 毫秒
	FinishingTime    int64           `json:"job_finishing_time"` // Unix 毫秒，尚未有結果時為 0
	TaskSeconds      int             `json:"task_seconds"`
	TaskName         string          `json:"task_name"`
	BestLocation     string          `json:"best_location"`
	BestEnergy       float64         `json:"best_energy"`
	EnergyHistory    []float64       `json:"energy_history"`
	NumFinishedTasks int             `json:"num_finished_tasks"`
	NumTotalTasks    int             `json:"num_total_tasks"` // split 完成前為 -1
	AdditionalParams json.RawMessage `json:"additional_params"`
	CurrentState     JobState        `json:"current_state"`
}

// Snapshot 任務的持久化文件：狀態視圖加上恢復所需欄位
type Snapshot struct {
	Status
	Resources

	RanBefore        bool              `json:"ran_before"`
	RequestedDivs    int               `json:"requested_divisions"`
	BitfieldFinished string            `json:"bitfield_finished,omitempty"` // base64，僅 ran_before 時存在
	Divisions        []json.RawMessage `json:"divisions,omitempty"`         // 僅 ran_before 時存在
}

// SnapshotRequiredKeys 快照文件必須存在的欄位
var SnapshotRequiredKeys = []string{
	"job_id", "job_name", "job_starting_time", "task_seconds", "task_name",
	"best_location", "best_energy", "energy_history", "additional_params",
	"current_state", "num_cpu", "num_mem", "num_net_mbps", "num_disk",
	"num_ports", "ran_before",
}
