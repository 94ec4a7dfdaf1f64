package grpcx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Clock interface {
	AuthorityNow() int64
}

type Jobs interface {
	Submit(ctx context.Context, job domain.CompositeJob) (domain.CompositeJob, bool, error)
	Status(ctx context.Context, sessionID string) (domain.CompositeJob, error)
}

type Server struct {
	clock Clock
	jobs  Jobs
}

func NewServer(clock Clock, jobs Jobs) *Server {
	return &Server{clock: clock, jobs: jobs}
}

// Register installs BoothService and the standard health service.
func Register(grpcServer *grpc.Server, s *Server) *health.Server {
	RegisterBoothServiceServer(grpcServer, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	return hs
}

// -------- helpers --------

func field(in *structpb.Struct, name string) string {
	v, ok := in.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func mapJob(j domain.CompositeJob) (*structpb.Struct, error) {
	m := map[string]any{
		"session_id": j.SessionID,
		"status":     string(j.Status),
		"layout":     string(j.Render.Layout),
		"filter":     string(j.Render.Filter),
	}
	if j.ResultRef != "" {
		m["result_ref"] = j.ResultRef
	}
	if j.Error != "" {
		m["error"] = j.Error
	}
	if !j.CreatedAt.IsZero() {
		m["created_at"] = j.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(m)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrRoomNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidLayout), errors.Is(err, domain.ErrInvalidFilter),
		errors.Is(err, domain.ErrInvalidAsset):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrJobExists), errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// -------- methods --------

func (s *Server) ServerTime(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	return wrapperspb.Int64(s.clock.AuthorityNow()), nil
}

func (s *Server) SubmitComposite(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sessionID := field(in, "session_id")
	if sessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	job, _, err := s.jobs.Submit(ctx, domain.CompositeJob{
		SessionID: sessionID,
		AssetA:    field(in, "url_a"),
		AssetB:    field(in, "url_b"),
		Render: domain.RenderConfig{
			Layout: domain.Layout(strings.ToLower(field(in, "layout"))),
			Filter: domain.Filter(strings.ToLower(field(in, "filter_name"))),
		},
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return mapJob(job)
}

func (s *Server) CompositeStatus(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(in.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "session id is required")
	}
	job, err := s.jobs.Status(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return mapJob(job)
}
