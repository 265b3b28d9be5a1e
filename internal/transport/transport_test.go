package transport

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/faleiro/internal/executor"
	"github.com/ChuLiYu/faleiro/internal/framework"
	"github.com/ChuLiYu/faleiro/internal/store"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 測試輔助函式
// ============================================================================

// setup 以 bufconn 啟動 Framework 與 gRPC 服務，回傳已連線的客戶端
func setup(t *testing.T) (*framework.Framework, *Client) {
	t.Helper()
	ctx := context.Background()

	fw, err := framework.New(framework.Config{JournalDir: t.TempDir()}, framework.Options{Store: store.NewMemoryStore()})
	require.NoError(t, err)
	require.NoError(t, fw.Start(ctx))
	t.Cleanup(func() { fw.Stop(ctx) })

	lis := bufconn.Listen(1 << 20)
	gs := NewServer(fw, nil).NewGRPCServer()
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return fw, client
}

func testSpec() types.JobSpec {
	return types.JobSpec{
		Name:        "tsp",
		TaskSeconds: 60,
		TaskName:    "tsp-anneal",
		Params:      json.RawMessage(`{"cities":8}`),
		Divisions:   2,
	}
}

func pollUntil(t *testing.T, c *Client, n int) []types.TaskRequest {
	t.Helper()
	var got []types.TaskRequest
	require.Eventually(t, func() bool {
		tasks, err := c.Poll(context.Background())
		require.NoError(t, err)
		got = append(got, tasks...)
		return len(got) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

// ============================================================================
// RPC 測試
// ============================================================================

func TestHealth(t *testing.T) {
	_, c := setup(t)
	ok, err := c.Healthy(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubmitPollReport(t *testing.T) {
	ctx := context.Background()
	_, c := setup(t)

	id, err := c.SubmitJob(ctx, testSpec())
	require.NoError(t, err)
	assert.Equal(t, types.JobID(1), id)

	split := pollUntil(t, c, 1)
	require.Equal(t, "1_div", split[0].TaskID)
	var payload types.TaskPayload
	require.NoError(t, json.Unmarshal(split[0].Data, &payload))
	assert.Equal(t, types.CommandSplit, payload.Command)
	require.NotNil(t, payload.Divisions)
	assert.Equal(t, 2, *payload.Divisions)

	require.NoError(t, c.Report(ctx, types.TaskFinished, "1_div", []byte(`{"uid":"1_div","divisions":[{"i":0},{"i":1}]}`)))
	parts := pollUntil(t, c, 2)
	for i, p := range parts {
		score := float64(10 - i)
		data, _ := json.Marshal(types.CompletionPayload{UID: p.TaskID, FitnessScore: &score, BestLocation: &p.TaskID})
		require.NoError(t, c.Report(ctx, types.TaskFinished, p.TaskID, data))
	}

	require.Eventually(t, func() bool {
		st, err := c.JobStatus(ctx, id)
		return err == nil && st.CurrentState == types.StateDone
	}, 2*time.Second, 10*time.Millisecond)

	st, err := c.JobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 9.0, st.BestEnergy)
	assert.Equal(t, 2, st.NumFinishedTasks)
}

func TestControlJob(t *testing.T) {
	ctx := context.Background()
	_, c := setup(t)
	id, err := c.SubmitJob(ctx, testSpec())
	require.NoError(t, err)

	st, err := c.Control(ctx, id, ActionPause)
	require.NoError(t, err)
	assert.Equal(t, types.StatePaused, st.CurrentState)

	st, err = c.Control(ctx, id, ActionResume)
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, st.CurrentState)

	st, err = c.Control(ctx, id, ActionStop)
	require.NoError(t, err)
	assert.Equal(t, types.StateStop, st.CurrentState)

	_, err = c.Control(ctx, id, Action("explode"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestListJobs(t *testing.T) {
	ctx := context.Background()
	_, c := setup(t)

	jobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	for i := 0; i < 2; i++ {
		_, err := c.SubmitJob(ctx, testSpec())
		require.NoError(t, err)
	}
	jobs, err = c.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestErrorCodes(t *testing.T) {
	ctx := context.Background()
	_, c := setup(t)

	_, err := c.JobStatus(ctx, 99)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Control(ctx, 99, ActionStop)
	assert.Equal(t, codes.NotFound, status.Code(err))

	bad := testSpec()
	bad.Name = ""
	_, err = c.SubmitJob(ctx, bad)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = c.Report(ctx, types.TaskFinished, "garbage", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = c.Report(ctx, types.TaskState("TASK_MAYBE"), "1_div", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestRemoteExecutorCompletesJob 測試遠端 executor 透過 gRPC 完成整個任務
func TestRemoteExecutorCompletesJob(t *testing.T) {
	ctx := context.Background()
	fw, c := setup(t)

	var _ executor.TaskSource = c
	pool := executor.NewPool(executor.Config{Workers: 2, PollInterval: 10 * time.Millisecond},
		c, executor.NewSimulatedSolver(3, 0, time.Millisecond), nil, nil)
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(pool.Stop)

	spec := testSpec()
	spec.Divisions = 5
	id, err := c.SubmitJob(ctx, spec)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := fw.JobStatus(id)
		return err == nil && st.CurrentState == types.StateDone
	}, 5*time.Second, 20*time.Millisecond)

	st, err := fw.JobStatus(id)
	require.NoError(t, err)
	assert.Equal(t, 5, st.NumFinishedTasks)
	assert.Len(t, st.EnergyHistory, 5)
}
