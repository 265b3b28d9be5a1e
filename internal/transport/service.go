package transport

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName 完整的 gRPC 服務名稱
const ServiceName = "faleiro.v1.Scheduler"

const (
	methodPendingTasks = "/" + ServiceName + "/PendingTasks"
	methodReportStatus = "/" + ServiceName + "/ReportStatus"
	methodSubmitJob    = "/" + ServiceName + "/SubmitJob"
	methodJobStatus    = "/" + ServiceName + "/JobStatus"
	methodControlJob   = "/" + ServiceName + "/ControlJob"
)

// SchedulerServer Scheduler 服務的伺服器端介面
type SchedulerServer interface {
	PendingTasks(context.Context, *PendingTasksRequest) (*PendingTasksResponse, error)
	ReportStatus(context.Context, *ReportStatusRequest) (*ReportStatusResponse, error)
	SubmitJob(context.Context, *SubmitJobRequest) (*SubmitJobResponse, error)
	JobStatus(context.Context, *JobStatusRequest) (*JobStatusResponse, error)
	ControlJob(context.Context, *ControlJobRequest) (*ControlJobResponse, error)
}

// RegisterSchedulerServer 將實作註冊到 gRPC 伺服器
func RegisterSchedulerServer(s grpc.ServiceRegistrar, srv SchedulerServer) {
	s.RegisterService(&schedulerServiceDesc, srv)
}

var schedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PendingTasks", Handler: pendingTasksHandler},
		{MethodName: "ReportStatus", Handler: reportStatusHandler},
		{MethodName: "SubmitJob", Handler: submitJobHandler},
		{MethodName: "JobStatus", Handler: jobStatusHandler},
		{MethodName: "ControlJob", Handler: controlJobHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faleiro/v1/scheduler",
}

func pendingTasksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PendingTasksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).PendingTasks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPendingTasks}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).PendingTasks(ctx, req.(*PendingTasksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reportStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReportStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).ReportStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReportStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).ReportStatus(ctx, req.(*ReportStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func submitJobHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).SubmitJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSubmitJob}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).SubmitJob(ctx, req.(*SubmitJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func jobStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(JobStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).JobStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodJobStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).JobStatus(ctx, req.(*JobStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlJobHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ControlJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).ControlJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodControlJob}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).ControlJob(ctx, req.(*ControlJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}
