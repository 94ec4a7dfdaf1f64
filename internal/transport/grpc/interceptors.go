package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cwrk-planet/booth-service/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// UnaryServerInterceptor logs each booth call with its session, recovers panics
// and bounds calls that arrive without a deadline by guard.
func UnaryServerInterceptor(guard time.Duration) grpc.UnaryServerInterceptor {
	if guard <= 0 {
		guard = 10 * time.Second
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, guard)
			defer cancel()
		}

		attrs := callAttrs(ctx, info.FullMethod, req)
		defer func() {
			if r := recover(); r != nil {
				slog.LogAttrs(ctx, slog.LevelError, "grpc call panic", append(attrs,
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))...)
				err = status.Error(codes.Internal, "internal server error")
			}
			code := status.Code(err)
			attrs = append(attrs,
				slog.String("code", code.String()),
				slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			if err != nil {
				attrs = append(attrs, slog.String("err", err.Error()))
			}
			slog.LogAttrs(ctx, levelFor(code), "grpc call", attrs...)
		}()

		return handler(ctx, req)
	}
}

// StreamServerInterceptor only serves health watches; they are long-lived, so
// completion is logged at debug.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		start := time.Now()
		attrs := callAttrs(ss.Context(), info.FullMethod, nil)

		defer func() {
			if r := recover(); r != nil {
				slog.LogAttrs(ss.Context(), slog.LevelError, "grpc stream panic", append(attrs,
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))...)
				err = status.Error(codes.Internal, "internal server error")
			}
			attrs = append(attrs,
				slog.String("code", status.Code(err).String()),
				slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			slog.LogAttrs(ss.Context(), slog.LevelDebug, "grpc stream closed", attrs...)
		}()

		return handler(srv, ss)
	}
}

// callAttrs splits /booth.v1.BoothService/SubmitComposite into service and rpc
// and pulls the session id out of the request when there is one.
func callAttrs(ctx context.Context, fullMethod string, req any) []slog.Attr {
	svc, rpc := fullMethod, ""
	if i := strings.LastIndex(fullMethod, "/"); i > 0 {
		svc, rpc = strings.TrimPrefix(fullMethod[:i], "/"), fullMethod[i+1:]
	}
	attrs := []slog.Attr{slog.String("grpc_service", svc), slog.String("rpc", rpc)}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, slog.String("peer_addr", p.Addr.String()))
	}
	if id := sessionOf(req); id != "" {
		attrs = append(attrs, slog.String("session", id))
	}
	return append(attrs, logger.AttrsFromCtx(ctx)...)
}

func sessionOf(req any) string {
	switch r := req.(type) {
	case *wrapperspb.StringValue:
		return strings.TrimSpace(r.GetValue())
	case *structpb.Struct:
		return field(r, "session_id")
	}
	return ""
}

func levelFor(code codes.Code) slog.Level {
	switch code {
	case codes.OK, codes.NotFound, codes.AlreadyExists:
		return slog.LevelInfo
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
