package grpcx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestUnaryInterceptor_LogsSession(t *testing.T) {
	buf := captureLog(t)
	ic := UnaryServerInterceptor(time.Second)

	req, err := structpb.NewStruct(map[string]any{"session_id": " S-42 "})
	require.NoError(t, err)
	_, err = ic(context.Background(), req, &grpc.UnaryServerInfo{FullMethod: methodSubmitComposite},
		func(context.Context, any) (any, error) {
			return nil, status.Error(codes.InvalidArgument, "bad layout")
		})
	require.Error(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec), buf.String())
	assert.Equal(t, "grpc call", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, ServiceName, rec["grpc_service"])
	assert.Equal(t, "SubmitComposite", rec["rpc"])
	assert.Equal(t, "S-42", rec["session"])
	assert.Equal(t, "InvalidArgument", rec["code"])
	assert.Contains(t, rec["err"], "bad layout")
}

func TestSessionOf(t *testing.T) {
	assert.Equal(t, "S-1", sessionOf(wrapperspb.String("S-1")))
	assert.Empty(t, sessionOf(&structpb.Struct{}))
	assert.Empty(t, sessionOf(nil))
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, levelFor(codes.OK))
	assert.Equal(t, slog.LevelInfo, levelFor(codes.NotFound))
	assert.Equal(t, slog.LevelWarn, levelFor(codes.InvalidArgument))
	assert.Equal(t, slog.LevelError, levelFor(codes.Internal))
}
