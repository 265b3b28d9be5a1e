package framework

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/faleiro/internal/job"
	"github.com/ChuLiYu/faleiro/internal/journal"
	"github.com/ChuLiYu/faleiro/internal/snapshot"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 崩潰恢復
// ============================================================================

// recover 載入快照、重放 journal 並啟動未終止的任務
//
// 單一任務的快照損壞只會略過該任務；儲存層錯誤則讓整個恢復失敗。
func (f *Framework) recover(ctx context.Context) error {
	start := time.Now()

	restored, err := f.loadSnapshots(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	for _, j := range restored {
		f.jobs[j.ID()] = j
		if j.ID() >= f.nextID {
			f.nextID = j.ID() + 1
		}
	}
	f.mu.Unlock()

	stats, err := f.replayJournal()
	if err != nil {
		return err
	}

	started := 0
	for _, j := range f.jobList() {
		if j.IsDone() {
			continue
		}
		if err := j.Start(); err != nil {
			f.log.Error("Failed to start recovered job", zap.Int64("job_id", int64(j.ID())), zap.Error(err))
			continue
		}
		started++
	}

	recoveryTime := time.Since(start)
	f.metrics.SetRecoveryTime(recoveryTime)
	f.updateStateMetrics()

	f.log.Info("Recovery completed",
		zap.Duration("duration", recoveryTime),
		zap.Int("jobs", len(restored)),
		zap.Int("started", started),
		zap.Int("replayed_events", stats.applied),
		zap.Int("skipped_events", stats.skipped))
	return nil
}

// loadSnapshots 以有限並行度載入所有任務快照
func (f *Framework) loadSnapshots(ctx context.Context) ([]*job.Job, error) {
	ids, err := f.snapshots.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	slots := make([]*job.Job, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.RecoveryConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			env, err := f.snapshots.Load(gctx, id)
			switch {
			case errors.Is(err, snapshot.ErrCorruptedSnapshot),
				errors.Is(err, snapshot.ErrIncompatibleVersion),
				errors.Is(err, snapshot.ErrSnapshotNotFound):
				f.log.Error("Skipping unreadable snapshot", zap.Int64("job_id", int64(id)), zap.Error(err))
				return nil
			case err != nil:
				return err
			}

			j, err := job.Restore(env.Job, f.jobOptions())
			if err != nil {
				f.log.Error("Skipping invalid snapshot", zap.Int64("job_id", int64(id)), zap.Error(err))
				return nil
			}
			if j.ID() != id {
				f.log.Error("Skipping snapshot stored under wrong key",
					zap.Int64("job_id", int64(id)),
					zap.Int64("document_job_id", int64(j.ID())))
				return nil
			}
			slots[i] = j
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	out := make([]*job.Job, 0, len(slots))
	for _, j := range slots {
		if j != nil {
			out = append(out, j)
		}
	}
	return out, nil
}

type replayStats struct {
	applied int
	skipped int
}

// replayJournal 將 journal 事件套用到已載入的任務
//
// 事件已包含在快照中時由任務自行略過；找不到任務的事件只記錄。
func (f *Framework) replayJournal() (replayStats, error) {
	var stats replayStats
	unknown := make(map[types.JobID]int)

	err := f.journal.Replay(func(e journal.Event) error {
		f.mu.Lock()
		if e.JobID >= f.nextID {
			// 快照遺失的任務也不可重用其 id
			f.nextID = e.JobID + 1
		}
		j, ok := f.jobs[e.JobID]
		f.mu.Unlock()

		if !ok {
			unknown[e.JobID]++
			stats.skipped++
			return nil
		}

		applied, err := applyEvent(j, e)
		if err != nil {
			f.log.Warn("Failed to replay journal event",
				zap.Uint64("seq", e.Seq),
				zap.String("type", string(e.Type)),
				zap.Int64("job_id", int64(e.JobID)),
				zap.Error(err))
			stats.skipped++
			return nil
		}
		if applied {
			stats.applied++
		} else {
			stats.skipped++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to replay journal: %w", err)
	}

	for id, n := range unknown {
		f.log.Warn("Journal events for unknown job", zap.Int64("job_id", int64(id)), zap.Int("events", n))
	}
	return stats, nil
}

func applyEvent(j *job.Job, e journal.Event) (bool, error) {
	switch e.Type {
	case journal.EventSplit:
		if j.NumTotalTasks() >= 0 {
			return false, nil
		}
		return true, j.ReplaySplit(e.Divisions)
	case journal.EventPartition:
		return j.ReplayPartition(e.Partition, e.Score, e.Location, e.FinishedAt)
	case journal.EventState:
		if j.State() == e.State {
			return false, nil
		}
		return true, j.ReplayState(e.State)
	default:
		return false, fmt.Errorf("unknown event type %q", e.Type)
	}
}
