// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package grpc 提供 gRPC 服务端，与 HTTP 能力对齐。消息以 google.protobuf.Struct 表示，无需代码生成。
package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"notes-platform/internal/dispatcher"
	"notes-platform/internal/job"
	jobstatus "notes-platform/internal/status"
	"notes-platform/pkg/auth"
	perrors "notes-platform/pkg/errors"
)

// ServiceName 完整服务名
const ServiceName = "notes.v1.JobService"

// JobServiceServer notes.v1.JobService
type JobServiceServer interface {
	// Submit {"link": "..."} -> {"job_id","source_id","status"}
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// GetJob {"job_id": "..."} -> Job 快照
	GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Server gRPC 服务端，持有 Dispatcher 与 Reporter
type Server struct {
	dispatcher *dispatcher.Dispatcher
	reporter   *jobstatus.Reporter
	health     *health.Server
}

// NewServer 创建 gRPC Server
func NewServer(d *dispatcher.Dispatcher, r *jobstatus.Reporter) *Server {
	return &Server{dispatcher: d, reporter: r, health: health.NewServer()}
}

// Register 注册 JobService 与标准健康检查服务
func (s *Server) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&jobServiceDesc, s)
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown 将健康状态置为 NOT_SERVING
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

func (s *Server) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	link := req.GetFields()["link"].GetStringValue()
	j, err := s.dispatcher.SubmitYouTube(ctx, link, auth.GetUserID(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"job_id":    j.ID,
		"source_id": j.SourceID,
		"status":    string(j.Status),
	})
}

func (s *Server) GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["job_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "job_id is required")
	}
	snap, err := s.reporter.GetForUser(ctx, id, auth.GetUserID(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]interface{}{
		"job_id":       snap.JobID,
		"source_id":    snap.SourceID,
		"kind":         string(snap.Kind),
		"status":       string(snap.Status),
		"progress":     float64(snap.Progress),
		"current_step": snap.CurrentStep,
		"error":        snap.Error,
		"retry_count":  float64(snap.RetryCount),
		"artifact_ref": snap.ArtifactRef,
		"created_at":   snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	return structpb.NewStruct(out)
}

// toStatus 与 HTTP 层一致的错误映射
func toStatus(err error) error {
	var ve *perrors.ValidationError
	var se *perrors.StorageError
	switch {
	case errors.As(err, &ve):
		if ve.TooLarge {
			return status.Error(codes.ResourceExhausted, ve.Error())
		}
		return status.Error(codes.InvalidArgument, ve.Error())
	case errors.Is(err, job.ErrJobNotFound), errors.Is(err, job.ErrSourceNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.As(err, &se):
		return status.Error(codes.Unavailable, "content storage unavailable")
	}
	return status.Error(codes.Internal, "internal error")
}

var jobServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", JobServiceServer.Submit)},
		{MethodName: "GetJob", Handler: unaryHandler("GetJob", JobServiceServer.GetJob)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "notes/v1/job.proto",
}

func unaryHandler(method string, call func(JobServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(JobServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(JobServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
