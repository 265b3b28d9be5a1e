// ============================================================================
// Faleiro Task Source Interface
// ============================================================================
//
// Package: internal/executor
// File: source.go
// Purpose: Defines where an executor pool fetches tasks and reports results.
//
//   - In-process: the framework itself implements TaskSource.
//   - Remote: transport.Client implements TaskSource over gRPC.
//
// ============================================================================

package executor

import (
	"context"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// TaskSource is the scheduler side seen by an executor pool.
type TaskSource interface {
	// Poll drains the tasks currently waiting to be scheduled. An empty
	// slice means nothing is pending; the pool waits before polling again.
	Poll(ctx context.Context) ([]types.TaskRequest, error)

	// Report delivers the outcome of one task. data is the completion
	// payload for TASK_FINISHED and nil otherwise.
	Report(ctx context.Context, state types.TaskState, taskID string, data []byte) error
}
