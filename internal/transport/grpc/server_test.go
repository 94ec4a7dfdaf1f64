package grpcx

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cwrk-planet/booth-service/internal/composite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fixedClock int64

func (c fixedClock) AuthorityNow() int64 { return int64(c) }

func dialBufconn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(time.Second)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	jobs := composite.NewPipeline(composite.Config{}, composite.NewMemoryStore(), nil, nil)
	Register(srv, NewServer(fixedClock(1_700_000_000_000), jobs))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestBoothService_ServerTime(t *testing.T) {
	c := NewClient(dialBufconn(t))
	ms, err := c.ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), ms)
}

func TestBoothService_SubmitAndStatus(t *testing.T) {
	c := NewClient(dialBufconn(t))
	ctx := context.Background()

	out, err := c.SubmitComposite(ctx, "S-1", "http://x/a.png", "http://x/b.png", "Vertical", "")
	require.NoError(t, err)
	assert.Equal(t, "queued", out.GetFields()["status"].GetStringValue())
	assert.Equal(t, "vertical", out.GetFields()["layout"].GetStringValue())
	assert.Equal(t, "polaroid", out.GetFields()["filter"].GetStringValue())

	st, err := c.CompositeStatus(ctx, "S-1")
	require.NoError(t, err)
	assert.Equal(t, "S-1", st.GetFields()["session_id"].GetStringValue())

	_, err = c.CompositeStatus(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.SubmitComposite(ctx, "S-2", "a", "b", "diagonal", "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.SubmitComposite(ctx, "", "a", "b", "", "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealth(t *testing.T) {
	hc := healthpb.NewHealthClient(dialBufconn(t))
	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestUnaryInterceptor_RecoversPanic(t *testing.T) {
	ic := UnaryServerInterceptor(time.Second)
	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/y"},
		func(ctx context.Context, req any) (any, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			panic("boom")
		})
	assert.Equal(t, codes.Internal, status.Code(err))
}
