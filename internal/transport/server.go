// ============================================================================
// Faleiro Transport - gRPC Scheduler 服務
// ============================================================================
//
// Package: internal/transport
// 文件: server.go
// 功能: 將 Framework 暴露為 gRPC 服務，供遠端 executor 與 CLI 使用
//
// 方法:
//   - PendingTasks: executor 拉取待執行的 task
//   - ReportStatus: executor 回報 task 結果
//   - SubmitJob / JobStatus / ControlJob: 任務管理
//
// 編碼:
//   訊息以 JSON codec 編碼（content-subtype "json"），另註冊標準 gRPC health 服務
//
// ============================================================================

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ChuLiYu/faleiro/internal/framework"
	"github.com/ChuLiYu/faleiro/internal/job"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// Scheduler Server 需要的 Framework 能力
type Scheduler interface {
	PendingTasks() []types.TaskRequest
	StatusUpdate(ctx context.Context, state types.TaskState, taskID string, data []byte) error
	SubmitJob(ctx context.Context, spec types.JobSpec) (types.JobID, error)
	JobStatus(id types.JobID) (types.Status, error)
	ListJobs() []types.Status
	PauseJob(id types.JobID) error
	ResumeJob(id types.JobID) error
	StopJob(id types.JobID) error
}

// Server implements SchedulerServer on top of a Scheduler.
type Server struct {
	sched  Scheduler
	log    *zap.Logger
	health *health.Server
}

var _ SchedulerServer = (*Server)(nil)

// NewServer creates a new Scheduler service instance.
func NewServer(sched Scheduler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		sched:  sched,
		log:    logger,
		health: health.NewServer(),
	}
}

// NewGRPCServer 建立已註冊 Scheduler 與 health 服務的 gRPC 伺服器
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logInterceptor))
	gs := grpc.NewServer(opts...)
	RegisterSchedulerServer(gs, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return gs
}

// Serve 在 lis 上提供服務直到 ctx 取消
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := s.NewGRPCServer()
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		gs.GracefulStop()
	}()

	s.log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// PendingTasks handles task polling from executors.
func (s *Server) PendingTasks(_ context.Context, req *PendingTasksRequest) (*PendingTasksResponse, error) {
	tasks := s.sched.PendingTasks()
	if len(tasks) > 0 {
		s.log.Debug("tasks handed out", zap.String("node_id", req.NodeID), zap.Int("tasks", len(tasks)))
	}
	return &PendingTasksResponse{Tasks: tasks}, nil
}

// ReportStatus handles task results from executors.
func (s *Server) ReportStatus(ctx context.Context, req *ReportStatusRequest) (*ReportStatusResponse, error) {
	state, err := types.ParseTaskState(string(req.State))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.sched.StatusUpdate(ctx, state, req.TaskID, req.Data); err != nil {
		return nil, toStatus(err)
	}
	return &ReportStatusResponse{}, nil
}

// SubmitJob handles job submission from clients.
func (s *Server) SubmitJob(ctx context.Context, req *SubmitJobRequest) (*SubmitJobResponse, error) {
	if err := req.Spec.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := s.sched.SubmitJob(ctx, req.Spec)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitJobResponse{JobID: id}, nil
}

// JobStatus returns one job, or every job when JobID is 0.
func (s *Server) JobStatus(_ context.Context, req *JobStatusRequest) (*JobStatusResponse, error) {
	if req.JobID == 0 {
		return &JobStatusResponse{Jobs: s.sched.ListJobs()}, nil
	}
	st, err := s.sched.JobStatus(req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JobStatusResponse{Jobs: []types.Status{st}}, nil
}

// ControlJob pauses, resumes or stops a job.
func (s *Server) ControlJob(_ context.Context, req *ControlJobRequest) (*ControlJobResponse, error) {
	var err error
	switch req.Action {
	case ActionPause:
		err = s.sched.PauseJob(req.JobID)
	case ActionResume:
		err = s.sched.ResumeJob(req.JobID)
	case ActionStop:
		err = s.sched.StopJob(req.JobID)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown action %q", req.Action)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	st, err := s.sched.JobStatus(req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ControlJobResponse{Status: st}, nil
}

func (s *Server) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warn("rpc failed",
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}
	return resp, err
}

// toStatus 將領域錯誤對應到 gRPC 狀態碼
func toStatus(err error) error {
	switch {
	case errors.Is(err, framework.ErrJobNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, job.ErrProtocol):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, job.ErrRetriesExhausted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, framework.ErrNotRunning):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("internal error: %v", err))
	}
}
