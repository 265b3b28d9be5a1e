package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/faleiro/internal/job"
	"github.com/ChuLiYu/faleiro/internal/store"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 建構與生命週期
// ============================================================================

func TestNewRequiresStoreAndJournalDir(t *testing.T) {
	_, err := New(Config{JournalDir: t.TempDir()}, Options{})
	assert.Error(t, err)

	_, err = New(Config{}, Options{Store: store.NewMemoryStore()})
	assert.Error(t, err)

	_, err = New(Config{JournalDir: t.TempDir(), Retry: job.RetryPolicy{MaxAttempts: -1}}, Options{Store: store.NewMemoryStore()})
	assert.Error(t, err)
}

func TestSubmitRequiresRunningFramework(t *testing.T) {
	f, err := New(Config{JournalDir: t.TempDir()}, Options{Store: store.NewMemoryStore()})
	require.NoError(t, err)

	_, err = f.SubmitJob(context.Background(), testSpec("early"))
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, f.Start(context.Background()))
	assert.ErrorIs(t, f.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, f.Stop(context.Background()))
	require.NoError(t, f.Stop(context.Background()), "Stop should be idempotent")

	_, err = f.SubmitJob(context.Background(), testSpec("late"))
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = f.Poll(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSubmitRejectsInvalidSpec(t *testing.T) {
	f := startFramework(t, store.NewMemoryStore(), t.TempDir())

	spec := testSpec("bad")
	spec.TaskSeconds = 0
	_, err := f.SubmitJob(context.Background(), spec)
	assert.Error(t, err)
	assert.Empty(t, f.ListJobs())
}

// ============================================================================
// 任務流程
// ============================================================================

// TestJobRunsToDone 測試從提交到完成的完整流程
func TestJobRunsToDone(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	f := startFramework(t, st, t.TempDir())

	id, parts := submitAndSplit(t, f, "tsp", 3)
	assert.Equal(t, types.JobID(1), id)
	assert.Equal(t, []string{"1_0", "1_1", "1_2"}, sortedIDs(parts))

	require.NoError(t, f.StatusUpdate(ctx, types.TaskFinished, "1_0", partitionResult(5.0, "a")))
	require.NoError(t, f.StatusUpdate(ctx, types.TaskFinished, "1_1", partitionResult(3.0, "b")))
	require.NoError(t, f.StatusUpdate(ctx, types.TaskFinished, "1_2", partitionResult(4.0, "c")))

	waitJobState(t, f, id, types.StateDone)
	status, err := f.JobStatus(id)
	require.NoError(t, err)
	assert.Equal(t, 3.0, status.BestEnergy)
	assert.Equal(t, "b", status.BestLocation)
	assert.Equal(t, []float64{5.0, 3.0, 4.0}, status.EnergyHistory)
	assert.Equal(t, 3, status.NumFinishedTasks)

	// 提交時寫入的初始快照
	env, err := f.snapshots.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, env.JobID)
}

func TestJobIDsIncrease(t *testing.T) {
	f := startFramework(t, store.NewMemoryStore(), t.TempDir())

	for want := types.JobID(1); want <= 3; want++ {
		id, err := f.SubmitJob(context.Background(), testSpec("tsp"))
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	jobs := f.ListJobs()
	require.Len(t, jobs, 3)
	for i, st := range jobs {
		assert.Equal(t, types.JobID(i+1), st.JobID)
	}
}

func TestStatusUpdateRouting(t *testing.T) {
	ctx := context.Background()
	f := startFramework(t, store.NewMemoryStore(), t.TempDir())
	_, err := f.SubmitJob(ctx, testSpec("tsp"))
	require.NoError(t, err)

	err = f.StatusUpdate(ctx, types.TaskFinished, "9_div", splitResult(2))
	assert.ErrorIs(t, err, ErrJobNotFound)

	err = f.StatusUpdate(ctx, types.TaskFinished, "nonsense", nil)
	assert.ErrorIs(t, err, job.ErrProtocol)
	var perr *job.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "nonsense", perr.TaskID)

	err = f.StatusUpdate(ctx, types.TaskFinished, "1_div", []byte(`{"uid":`))
	assert.ErrorIs(t, err, job.ErrProtocol)
}

func TestFailedPartitionIsReissued(t *testing.T) {
	ctx := context.Background()
	f := startFramework(t, store.NewMemoryStore(), t.TempDir())
	_, _ = submitAndSplit(t, f, "tsp", 2)

	require.NoError(t, f.StatusUpdate(ctx, types.TaskLost, "1_1", nil))
	again := collectPending(t, f, 1)
	assert.Equal(t, []string{"1_1"}, sortedIDs(again))

	status, err := f.JobStatus(1)
	require.NoError(t, err)
	assert.Equal(t, 0, status.NumFinishedTasks)
	assert.Empty(t, status.EnergyHistory)
}

func TestJobControl(t *testing.T) {
	f := startFramework(t, store.NewMemoryStore(), t.TempDir())
	id, err := f.SubmitJob(context.Background(), testSpec("tsp"))
	require.NoError(t, err)

	require.NoError(t, f.PauseJob(id))
	waitJobState(t, f, id, types.StatePaused)
	require.NoError(t, f.ResumeJob(id))
	waitJobState(t, f, id, types.StateRunning)
	require.NoError(t, f.StopJob(id))
	waitJobState(t, f, id, types.StateStop)

	assert.ErrorIs(t, f.PauseJob(42), ErrJobNotFound)
	assert.ErrorIs(t, f.ResumeJob(42), ErrJobNotFound)
	assert.ErrorIs(t, f.StopJob(42), ErrJobNotFound)
	_, err = f.JobStatus(42)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.Snapshot(42)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPollAndReport(t *testing.T) {
	ctx := context.Background()
	f := startFramework(t, store.NewMemoryStore(), t.TempDir())
	_, err := f.SubmitJob(ctx, testSpec("tsp"))
	require.NoError(t, err)

	var tasks []types.TaskRequest
	require.Eventually(t, func() bool {
		got, err := f.Poll(ctx)
		require.NoError(t, err)
		tasks = append(tasks, got...)
		return len(tasks) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.Report(ctx, types.TaskFinished, tasks[0].TaskID, splitResult(1)))

	parts := collectPending(t, f, 1)
	require.NoError(t, f.Report(ctx, types.TaskFinished, parts[0].TaskID, partitionResult(1.5, "x")))
	waitJobState(t, f, 1, types.StateDone)
}

// ============================================================================
// Checkpoint
// ============================================================================

func TestCheckpointCompactsJournal(t *testing.T) {
	ctx := context.Background()
	f := startFramework(t, store.NewMemoryStore(), t.TempDir())
	id, _ := submitAndSplit(t, f, "tsp", 2)
	require.NoError(t, f.StatusUpdate(ctx, types.TaskFinished, "1_0", partitionResult(7.0, "loc")))

	before, err := f.journal.Segments()
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, f.Checkpoint(ctx))

	after, err := f.journal.Segments()
	require.NoError(t, err)
	assert.Equal(t, []int{before[0] + 1}, after, "sealed segment should be removed")

	env, err := f.snapshots.Load(ctx, id)
	require.NoError(t, err)
	restored, err := job.Restore(env.Job, job.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, restored.NumFinishedTasks())
	assert.Equal(t, 2, restored.NumTotalTasks())
}

// failingStore 寫入一律失敗
type failingStore struct {
	*store.MemoryStore
	fail bool
}

func (s *failingStore) Save(ctx context.Context, key string, data []byte) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, key, data)
}

func TestCheckpointKeepsJournalOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	f := startFramework(t, st, t.TempDir())
	_, err := f.SubmitJob(ctx, testSpec("tsp"))
	require.NoError(t, err)

	st.fail = true
	assert.Error(t, f.Checkpoint(ctx))

	segs, err := f.journal.Segments()
	require.NoError(t, err)
	assert.Len(t, segs, 2, "sealed segment must survive a failed checkpoint")
	st.fail = false
}

func TestSubmitFailsWhenInitialSnapshotFails(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore(), fail: true}
	f := startFramework(t, st, t.TempDir())

	_, err := f.SubmitJob(context.Background(), testSpec("tsp"))
	assert.Error(t, err)
	assert.Empty(t, f.ListJobs())
	st.fail = false
}
