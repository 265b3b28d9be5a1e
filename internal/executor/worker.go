// ============================================================================
// Faleiro Executor Worker - Task Execution Unit
// ============================================================================
//
// Package: internal/executor
// File: worker.go
// Function: Decodes one task payload, runs the solver, reports the outcome
//
// How it works:
//   Each worker is an independent goroutine that loops:
//   1. Receive task from taskCh (blocking wait)
//   2. Decode the payload and run Split or Anneal
//   3. Report TASK_FINISHED with a completion payload, or TASK_FAILED
//   4. Repeat until taskCh is closed
//
// Timeout Control:
//   Anneal runs under context.WithTimeout derived from minutes_per_division.
//   A timed-out partition is reported as TASK_FAILED so the job reissues it.
//
// Shutdown:
//   Tasks still queued when the pool stops are reported as TASK_LOST.
//
// ============================================================================

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// errBadPayload the task payload could not be decoded
var errBadPayload = errors.New("malformed task payload")

// worker represents a work execution unit
type worker struct {
	id     int
	taskCh <-chan types.TaskRequest
	pool   *Pool
	log    *zap.Logger
}

func newWorker(id int, taskCh <-chan types.TaskRequest, pool *Pool) *worker {
	return &worker{
		id:     id,
		taskCh: taskCh,
		pool:   pool,
		log:    pool.log.With(zap.Int("worker", id)),
	}
}

// run is the main loop; ctx is cancelled when the pool stops
func (w *worker) run(ctx context.Context) {
	for task := range w.taskCh {
		if ctx.Err() != nil {
			w.report(ctx, types.TaskLost, task.TaskID, nil)
			continue
		}

		start := time.Now()
		data, err := w.execute(ctx, task)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			w.pool.stats.finished.Add(1)
			w.report(ctx, types.TaskFinished, task.TaskID, data)
			w.log.Debug("task finished", zap.String("task_id", task.TaskID), zap.Duration("duration", elapsed))
		case errors.Is(err, errBadPayload):
			w.pool.stats.failed.Add(1)
			w.report(ctx, types.TaskError, task.TaskID, nil)
			w.log.Error("task rejected", zap.String("task_id", task.TaskID), zap.Error(err))
		case ctx.Err() != nil:
			w.pool.stats.failed.Add(1)
			w.report(ctx, types.TaskLost, task.TaskID, nil)
		default:
			w.pool.stats.failed.Add(1)
			w.report(ctx, types.TaskFailed, task.TaskID, nil)
			w.log.Warn("task failed", zap.String("task_id", task.TaskID), zap.Duration("duration", elapsed), zap.Error(err))
		}
	}
}

// execute runs the solver command named in the payload
func (w *worker) execute(ctx context.Context, task types.TaskRequest) ([]byte, error) {
	var payload types.TaskPayload
	if err := json.Unmarshal(task.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPayload, err)
	}

	switch payload.Command {
	case types.CommandSplit:
		divisions := 0
		if payload.Divisions != nil {
			divisions = *payload.Divisions
		}
		divs, err := w.pool.solver.Split(ctx, payload.ProblemData, divisions)
		if err != nil {
			return nil, err
		}
		return encodeSplit(payload.UID, divs)

	case types.CommandAnneal:
		if payload.MinutesPerDivision != nil && *payload.MinutesPerDivision > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(*payload.MinutesPerDivision*float64(time.Minute)))
			defer cancel()
		}
		score, location, err := w.pool.solver.Anneal(ctx, payload.ProblemData, payload.Partition)
		if err != nil {
			return nil, err
		}
		return json.Marshal(types.CompletionPayload{
			UID:          payload.UID,
			FitnessScore: &score,
			BestLocation: &location,
		})

	default:
		return nil, fmt.Errorf("%w: unknown command %q", errBadPayload, payload.Command)
	}
}

// report 結果回報不受 pool 關閉影響，讓排程端知道 task 的去向
func (w *worker) report(ctx context.Context, state types.TaskState, taskID string, data []byte) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.pool.cfg.ReportTimeout)
	defer cancel()

	if err := w.pool.source.Report(rctx, state, taskID, data); err != nil {
		w.pool.stats.reportErrors.Add(1)
		w.log.Error("failed to report task",
			zap.String("task_id", taskID),
			zap.String("task_state", string(state)),
			zap.Error(err))
	}
}

// encodeSplit 空的 partition 列表也必須以 [] 送出
func encodeSplit(uid string, divs []json.RawMessage) ([]byte, error) {
	if divs == nil {
		divs = []json.RawMessage{}
	}
	return json.Marshal(struct {
		UID       string            `json:"uid"`
		Divisions []json.RawMessage `json:"divisions"`
	}{uid, divs})
}
