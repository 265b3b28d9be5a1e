package job

import (
	"errors"
	"fmt"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrProtocol 所有 ProtocolError 都滿足 errors.Is(err, ErrProtocol)
	ErrProtocol = errors.New("protocol error")
	// ErrForeignTask task id 中的 job id 與本任務不符
	ErrForeignTask = errors.New("task belongs to another job")

	ErrAlreadyStarted   = errors.New("job already started")
	ErrJobFinished      = errors.New("job already finished")
	ErrDetached         = errors.New("job detached")
	ErrInvalidSnapshot  = errors.New("invalid job snapshot")
	ErrRetriesExhausted = errors.New("retries exhausted")

	// errStopped 迴圈或重排程因 STOP/DONE/detach 而結束，不對外回報
	errStopped = errors.New("job stopped")
)

// ProtocolError 收到無法解析或不屬於本任務的訊息
type ProtocolError struct {
	TaskID string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error on task %q: %s: %v", e.TaskID, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error on task %q: %s", e.TaskID, e.Reason)
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProtocol}
	}
	return []error{ErrProtocol, e.Err}
}

func protocolErr(taskID, reason string, err error) error {
	return &ProtocolError{TaskID: taskID, Reason: reason, Err: err}
}
