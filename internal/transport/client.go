package transport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// Client Scheduler 服務的客戶端，同時實作 executor.TaskSource
type Client struct {
	conn   *grpc.ClientConn
	nodeID string
}

// Dial 建立到 target 的連線；opts 需包含傳輸憑證設定
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	return &Client{conn: conn, nodeID: uuid.NewString()}, nil
}

// NodeID 回報時附帶的節點識別碼
func (c *Client) NodeID() string { return c.nodeID }

// Close 關閉連線
func (c *Client) Close() error { return c.conn.Close() }

// Poll fetches pending tasks from the scheduler.
func (c *Client) Poll(ctx context.Context) ([]types.TaskRequest, error) {
	var out PendingTasksResponse
	if err := c.conn.Invoke(ctx, methodPendingTasks, &PendingTasksRequest{NodeID: c.nodeID}, &out); err != nil {
		return nil, fmt.Errorf("rpc poll failed: %w", err)
	}
	return out.Tasks, nil
}

// Report delivers a task result to the scheduler.
func (c *Client) Report(ctx context.Context, state types.TaskState, taskID string, data []byte) error {
	req := &ReportStatusRequest{NodeID: c.nodeID, TaskID: taskID, State: state, Data: data}
	if err := c.conn.Invoke(ctx, methodReportStatus, req, &ReportStatusResponse{}); err != nil {
		return fmt.Errorf("rpc report failed: %w", err)
	}
	return nil
}

// SubmitJob submits a new job and returns its id.
func (c *Client) SubmitJob(ctx context.Context, spec types.JobSpec) (types.JobID, error) {
	var out SubmitJobResponse
	if err := c.conn.Invoke(ctx, methodSubmitJob, &SubmitJobRequest{Spec: spec}, &out); err != nil {
		return 0, fmt.Errorf("rpc submit failed: %w", err)
	}
	return out.JobID, nil
}

// JobStatus returns the status of one job.
func (c *Client) JobStatus(ctx context.Context, id types.JobID) (types.Status, error) {
	var out JobStatusResponse
	if err := c.conn.Invoke(ctx, methodJobStatus, &JobStatusRequest{JobID: id}, &out); err != nil {
		return types.Status{}, fmt.Errorf("rpc status failed: %w", err)
	}
	if len(out.Jobs) != 1 {
		return types.Status{}, fmt.Errorf("rpc status: expected 1 job, got %d", len(out.Jobs))
	}
	return out.Jobs[0], nil
}

// ListJobs returns every hosted job.
func (c *Client) ListJobs(ctx context.Context) ([]types.Status, error) {
	var out JobStatusResponse
	if err := c.conn.Invoke(ctx, methodJobStatus, &JobStatusRequest{}, &out); err != nil {
		return nil, fmt.Errorf("rpc list failed: %w", err)
	}
	return out.Jobs, nil
}

// Control applies a pause, resume or stop action.
func (c *Client) Control(ctx context.Context, id types.JobID, action Action) (types.Status, error) {
	var out ControlJobResponse
	if err := c.conn.Invoke(ctx, methodControlJob, &ControlJobRequest{JobID: id, Action: action}, &out); err != nil {
		return types.Status{}, fmt.Errorf("rpc %s failed: %w", action, err)
	}
	return out.Status, nil
}

// Healthy 查詢 Scheduler 服務的 health 狀態
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName},
		grpc.CallContentSubtype("proto"))
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
