package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ChuLiYu/faleiro/internal/executor"
	"github.com/ChuLiYu/faleiro/internal/framework"
	"github.com/ChuLiYu/faleiro/internal/job"
	"github.com/ChuLiYu/faleiro/internal/journal"
	"github.com/ChuLiYu/faleiro/internal/store"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// system 一個 framework 加上本機 executor pool
type system struct {
	fw   *framework.Framework
	pool *executor.Pool
}

type systemConfig struct {
	workers     int
	failureRate float64
	maxWork     time.Duration
	seed        int64
	compress    bool
}

// startSystem 在 dir 下建立 framework 與 executor；workers 為 0 時不啟動 executor
func startSystem(tb testing.TB, dir string, sc systemConfig) *system {
	tb.Helper()

	st, err := store.NewFileStore(filepath.Join(dir, "snapshots"))
	require.NoError(tb, err)

	fw, err := framework.New(framework.Config{
		JournalDir:         filepath.Join(dir, "journal"),
		Journal:            journal.Options{BufferSize: 8, FlushInterval: 10 * time.Millisecond},
		CheckpointInterval: 200 * time.Millisecond,
		CompressSnapshots:  sc.compress,
		Retry:              job.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	}, framework.Options{
		Logger: zap.NewNop(),
		Store:  st,
		Clock:  clock.WallClock,
	})
	require.NoError(tb, err)
	require.NoError(tb, fw.Start(context.Background()))

	s := &system{fw: fw}
	if sc.workers > 0 {
		solver := executor.NewSimulatedSolver(sc.seed, sc.failureRate, sc.maxWork)
		s.pool = executor.NewPool(executor.Config{
			Workers:      sc.workers,
			PollInterval: 5 * time.Millisecond,
		}, fw, solver, zap.NewNop(), clock.WallClock)
		require.NoError(tb, s.pool.Start(context.Background()))
	}
	return s
}

// stop 先停 executor 再停 framework
func (s *system) stop(tb testing.TB) {
	tb.Helper()
	if s.pool != nil {
		s.pool.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(tb, s.fw.Stop(ctx))
}

func submitJobs(tb testing.TB, fw *framework.Framework, count, divisions int) []types.JobID {
	tb.Helper()
	ids := make([]types.JobID, 0, count)
	for i := 0; i < count; i++ {
		id, err := fw.SubmitJob(context.Background(), types.JobSpec{
			Name:        fmt.Sprintf("job-%d", i),
			TaskSeconds: 5,
			TaskName:    "anneal",
			Params:      []byte(fmt.Sprintf(`{"seed":%d}`, i)),
			Divisions:   divisions,
		})
		require.NoError(tb, err)
		ids = append(ids, id)
	}
	return ids
}

func allDone(fw *framework.Framework) bool {
	for _, st := range fw.ListJobs() {
		if st.CurrentState != types.StateDone {
			return false
		}
	}
	return true
}

func statusByID(fw *framework.Framework) map[types.JobID]types.Status {
	out := make(map[types.JobID]types.Status)
	for _, st := range fw.ListJobs() {
		out[st.JobID] = st
	}
	return out
}
