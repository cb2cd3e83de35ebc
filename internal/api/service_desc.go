package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "miradorregress.v1.RegressionService"

// Full method names.
const (
	MethodComputeRegression = "/" + ServiceName + "/ComputeRegression"
	MethodComputeSlowdown   = "/" + ServiceName + "/ComputeSlowdown"
	MethodReport            = "/" + ServiceName + "/Report"
)

// RegressionServer is the server API for the regression service. Requests
// and responses are JSON-shaped google.protobuf.Struct messages.
type RegressionServer interface {
	ComputeRegression(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ComputeSlowdown(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Report(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRegressionServer attaches srv to registrar.
func RegisterRegressionServer(registrar grpc.ServiceRegistrar, srv RegressionServer) {
	registrar.RegisterService(&RegressionServiceDesc, srv)
}

// RegressionServiceDesc describes the regression service for grpc.Server.
var RegressionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegressionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ComputeRegression",
			Handler: unaryHandler(MethodComputeRegression, func(srv RegressionServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ComputeRegression(ctx, req)
			}),
		},
		{
			MethodName: "ComputeSlowdown",
			Handler: unaryHandler(MethodComputeSlowdown, func(srv RegressionServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ComputeSlowdown(ctx, req)
			}),
		},
		{
			MethodName: "Report",
			Handler: unaryHandler(MethodReport, func(srv RegressionServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.Report(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "miradorregress/v1/regression.proto",
}

type unaryCall func(RegressionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RegressionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RegressionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegressionClient is the client API for the regression service.
type RegressionClient struct {
	cc grpc.ClientConnInterface
}

// NewRegressionClient wraps a client connection.
func NewRegressionClient(cc grpc.ClientConnInterface) *RegressionClient {
	return &RegressionClient{cc: cc}
}

// ComputeRegression invokes the ComputeRegression RPC.
func (c *RegressionClient) ComputeRegression(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodComputeRegression, in, opts...)
}

// ComputeSlowdown invokes the ComputeSlowdown RPC.
func (c *RegressionClient) ComputeSlowdown(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodComputeSlowdown, in, opts...)
}

// Report invokes the Report RPC.
func (c *RegressionClient) Report(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodReport, in, opts...)
}

func (c *RegressionClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
