package grpcapi

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/cartridge/paddle/internal/service"
	"github.com/cartridge/paddle/internal/storage"
	"github.com/cartridge/paddle/internal/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "paddle.snapshots.v1.Snapshots"

// LatestRequest has no fields.
type LatestRequest struct{}

// PageRequest asks for the newest Limit summaries.
type PageRequest struct {
	Limit int `json:"limit"`
}

// PageResponse lists summaries oldest first.
type PageResponse struct {
	Records []types.SnapshotSummary `json:"records"`
}

// SnapshotsServer is the server API for the Snapshots service.
type SnapshotsServer interface {
	Append(context.Context, *types.AppendInput) (*types.AppendReceipt, error)
	Latest(context.Context, *LatestRequest) (*types.SnapshotRecord, error)
	Page(context.Context, *PageRequest) (*PageResponse, error)
}

// ServiceDesc describes the Snapshots service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SnapshotsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Append", Handler: appendHandler},
		{MethodName: "Latest", Handler: latestHandler},
		{MethodName: "Page", Handler: pageHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func appendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.AppendInput)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotsServer).Append(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Append"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SnapshotsServer).Append(ctx, req.(*types.AppendInput))
	})
}

func latestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LatestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotsServer).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Latest"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SnapshotsServer).Latest(ctx, req.(*LatestRequest))
	})
}

func pageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotsServer).Page(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Page"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SnapshotsServer).Page(ctx, req.(*PageRequest))
	})
}

// Server implements SnapshotsServer on top of the snapshot service.
type Server struct {
	snapshots *service.Snapshots
}

// NewServer creates a Server.
func NewServer(snapshots *service.Snapshots) *Server {
	return &Server{snapshots: snapshots}
}

// Append stores one record.
func (s *Server) Append(ctx context.Context, in *types.AppendInput) (*types.AppendReceipt, error) {
	receipt, err := s.snapshots.Append(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &receipt, nil
}

// Latest returns the newest full record.
func (s *Server) Latest(ctx context.Context, _ *LatestRequest) (*types.SnapshotRecord, error) {
	rec, err := s.snapshots.Latest(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rec, nil
}

// Page returns summaries; a zero limit means the default page size.
func (s *Server) Page(ctx context.Context, in *PageRequest) (*PageResponse, error) {
	limit := in.Limit
	if limit == 0 {
		limit = service.DefaultPageLimit
	}
	page, err := s.snapshots.Page(ctx, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PageResponse{Records: page}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, types.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, "No snapshots stored yet")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Register installs the Snapshots, health and reflection services on gs and
// returns the health server so callers can flip it to NOT_SERVING on
// shutdown.
func Register(gs *grpc.Server, snapshots *service.Snapshots) *health.Server {
	gs.RegisterService(&ServiceDesc, NewServer(snapshots))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	reflection.Register(gs)
	return hs
}

// UnaryLogger logs every unary call.
func UnaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := zerolog.InfoLevel
		switch code {
		case codes.OK:
		case codes.InvalidArgument, codes.NotFound:
			level = zerolog.WarnLevel
		default:
			level = zerolog.ErrorLevel
		}
		logger.WithLevel(level).
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("gRPC call")
		return resp, err
	}
}
