package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/faleiro/internal/store"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 測試輔助函式
// ============================================================================

func testSpec(name string) types.JobSpec {
	return types.JobSpec{
		Name:        name,
		TaskSeconds: 120,
		TaskName:    "tsp-anneal",
		Params:      json.RawMessage(`{"cities":12}`),
	}
}

// startFramework 以共用的 store 與 journal 目錄啟動 Framework，模擬同一台主機重啟
func startFramework(t *testing.T, st store.BlobStore, dir string, mutate ...func(*Config)) *Framework {
	t.Helper()
	cfg := Config{JournalDir: dir}
	for _, m := range mutate {
		m(&cfg)
	}
	f, err := New(cfg, Options{Store: st})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(func() { f.Stop(context.Background()) })
	return f
}

// crash 不做最後 checkpoint 直接結束，只留下 journal 與先前的快照
func crash(t *testing.T, f *Framework) {
	t.Helper()
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()

	f.loopCancel()
	<-f.loopDone
	for _, j := range f.jobList() {
		require.NoError(t, j.Detach(context.Background()))
	}
	require.NoError(t, f.journal.Close())
}

func collectPending(t *testing.T, f *Framework, n int) []types.TaskRequest {
	t.Helper()
	var got []types.TaskRequest
	require.Eventually(t, func() bool {
		got = append(got, f.PendingTasks()...)
		return len(got) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d tasks", n)
	return got
}

func sortedIDs(reqs []types.TaskRequest) []string {
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.TaskID
	}
	sort.Strings(ids)
	return ids
}

func splitResult(n int) []byte {
	divs := make([]json.RawMessage, n)
	for i := range divs {
		divs[i] = json.RawMessage(fmt.Sprintf(`{"range":[%d,%d]}`, i*10, i*10+9))
	}
	data, _ := json.Marshal(types.CompletionPayload{UID: "split", Divisions: divs})
	return data
}

func partitionResult(score float64, location string) []byte {
	data, _ := json.Marshal(types.CompletionPayload{UID: "p", FitnessScore: &score, BestLocation: &location})
	return data
}

// submitAndSplit 提交任務並回報 n 個 partition，回傳 partition task
func submitAndSplit(t *testing.T, f *Framework, name string, n int) (types.JobID, []types.TaskRequest) {
	t.Helper()
	ctx := context.Background()
	id, err := f.SubmitJob(ctx, testSpec(name))
	require.NoError(t, err)

	split := collectPending(t, f, 1)
	require.Equal(t, fmt.Sprintf("%d_div", id), split[0].TaskID)
	require.NoError(t, f.StatusUpdate(ctx, types.TaskFinished, split[0].TaskID, splitResult(n)))
	return id, collectPending(t, f, n)
}

func waitJobState(t *testing.T, f *Framework, id types.JobID, want types.JobState) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := f.JobStatus(id)
		return err == nil && st.CurrentState == want
	}, 2*time.Second, 5*time.Millisecond, "job %d never reached %s", id, want)
}
