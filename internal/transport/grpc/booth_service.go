package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// booth.v1.BoothService carries well-known types only, so the descriptor is
// declared here instead of generated.
const (
	ServiceName = "booth.v1.BoothService"

	methodServerTime      = "/booth.v1.BoothService/ServerTime"
	methodSubmitComposite = "/booth.v1.BoothService/SubmitComposite"
	methodCompositeStatus = "/booth.v1.BoothService/CompositeStatus"
)

type BoothServiceServer interface {
	// ServerTime returns the authority clock in epoch milliseconds.
	ServerTime(ctx context.Context, in *emptypb.Empty) (*wrapperspb.Int64Value, error)
	// SubmitComposite takes {session_id, url_a, url_b, layout, filter_name}.
	SubmitComposite(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CompositeStatus(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

func RegisterBoothServiceServer(s grpc.ServiceRegistrar, srv BoothServiceServer) {
	s.RegisterService(&boothServiceDesc, srv)
}

var boothServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BoothServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ServerTime", Handler: serverTimeHandler},
		{MethodName: "SubmitComposite", Handler: submitCompositeHandler},
		{MethodName: "CompositeStatus", Handler: compositeStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "booth/v1/booth.proto",
}

func serverTimeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoothServiceServer).ServerTime(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodServerTime}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BoothServiceServer).ServerTime(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func submitCompositeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoothServiceServer).SubmitComposite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSubmitComposite}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BoothServiceServer).SubmitComposite(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func compositeStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoothServiceServer).CompositeStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCompositeStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BoothServiceServer).CompositeStatus(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is the caller side of BoothService. It also serves as a clock source
// for the offset estimator.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, methodServerTime, &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

func (c *Client) SubmitComposite(ctx context.Context, sessionID, urlA, urlB, layout, filter string) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{
		"session_id":  sessionID,
		"url_a":       urlA,
		"url_b":       urlB,
		"layout":      layout,
		"filter_name": filter,
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodSubmitComposite, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CompositeStatus(ctx context.Context, sessionID string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodCompositeStatus, wrapperspb.String(sessionID), out); err != nil {
		return nil, err
	}
	return out, nil
}
