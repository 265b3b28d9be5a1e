package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 測試輔助函式
// ============================================================================

func testSpec() types.JobSpec {
	return types.JobSpec{
		Name:        "tsp",
		TaskSeconds: 240,
		TaskName:    "tsp-anneal",
		Params:      json.RawMessage(`{"cities":10}`),
	}
}

func newTestJob(t *testing.T, opts Options) *Job {
	t.Helper()
	j, err := New(1, testSpec(), opts)
	require.NoError(t, err)
	t.Cleanup(j.cancel)
	return j
}

// collectTasks 持續拉取直到累積 n 個 task
func collectTasks(t *testing.T, j *Job, n int) []types.TaskRequest {
	t.Helper()
	var got []types.TaskRequest
	require.Eventually(t, func() bool {
		got = append(got, j.PendingTasks()...)
		return len(got) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d tasks, got %d", n, len(got))
	return got
}

func taskIDs(reqs []types.TaskRequest) []string {
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.TaskID
	}
	return ids
}

func splitResult(n int) []byte {
	if n == 0 {
		return []byte(`{"uid":"split","divisions":[]}`)
	}
	divs := make([]json.RawMessage, n)
	for i := range divs {
		divs[i] = json.RawMessage(fmt.Sprintf(`{"part":%d}`, i))
	}
	data, _ := json.Marshal(types.CompletionPayload{UID: "split", Divisions: divs})
	return data
}

func partitionResult(score float64, location string) []byte {
	data, _ := json.Marshal(types.CompletionPayload{UID: "p", FitnessScore: &score, BestLocation: &location})
	return data
}

// startWithSplit 啟動任務並回報 n 個 partition 的 split 結果，回傳 partition task
func startWithSplit(t *testing.T, j *Job, n int) []types.TaskRequest {
	t.Helper()
	require.NoError(t, j.Start())
	split := collectTasks(t, j, 1)
	require.Equal(t, SplitTaskID(j.ID()), split[0].TaskID)
	require.NoError(t, j.ProcessIncomingMessages(context.Background(), types.TaskFinished, split[0].TaskID, splitResult(n)))
	if n == 0 {
		return nil
	}
	return collectTasks(t, j, n)
}

func waitState(t *testing.T, j *Job, want types.JobState) {
	t.Helper()
	require.Eventually(t, func() bool { return j.State() == want },
		2*time.Second, 5*time.Millisecond, "state %s, want %s", j.State(), want)
}

// recordingObserver 記錄所有事件，供測試驗證
type recordingObserver struct {
	mu sync.Mutex
	observed
}

type observed struct {
	emitted     []string
	retried     []string
	splits      int
	partitions  []PartitionResult
	transitions [][2]types.JobState
	exhausted   []string
}

func (o *recordingObserver) TaskEmitted(_ types.JobID, taskID string, retry bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emitted = append(o.emitted, taskID)
	if retry {
		o.retried = append(o.retried, taskID)
	}
}

func (o *recordingObserver) SplitRecorded(types.JobID, []json.RawMessage) {
	o.mu.Lock()
	o.splits++
	o.mu.Unlock()
}

func (o *recordingObserver) PartitionCompleted(_ types.JobID, res PartitionResult) {
	o.mu.Lock()
	o.partitions = append(o.partitions, res)
	o.mu.Unlock()
}

func (o *recordingObserver) StateChanged(_ types.JobID, from, to types.JobState) {
	o.mu.Lock()
	o.transitions = append(o.transitions, [2]types.JobState{from, to})
	o.mu.Unlock()
}

func (o *recordingObserver) RetriesExhausted(_ types.JobID, taskID string) {
	o.mu.Lock()
	o.exhausted = append(o.exhausted, taskID)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return observed{
		emitted:     append([]string{}, o.emitted...),
		retried:     append([]string{}, o.retried...),
		splits:      o.splits,
		partitions:  append([]PartitionResult{}, o.partitions...),
		transitions: append([][2]types.JobState{}, o.transitions...),
		exhausted:   append([]string{}, o.exhausted...),
	}
}
