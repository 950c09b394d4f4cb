// Package vestingv1 is the gRPC contract of the vesting service. Messages are
// google.protobuf.Struct values whose shape is described by the Go types in
// messages.go; 64-bit integers travel as decimal strings.
package vestingv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "vesting.v1.VestingService"

const (
	CreateVestingAccountFullMethod  = "/" + ServiceName + "/CreateVestingAccount"
	CreateEmployeeAccountFullMethod = "/" + ServiceName + "/CreateEmployeeAccount"
	ClaimTokenFullMethod            = "/" + ServiceName + "/ClaimToken"
	GetEmployeeFullMethod           = "/" + ServiceName + "/GetEmployee"
)

// ReasonTrailer carries the machine-readable failure code of an RPC error.
const ReasonTrailer = "vesting-reason"

// VestingServiceServer is the server API for the vesting service.
type VestingServiceServer interface {
	CreateVestingAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateEmployeeAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClaimToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEmployee(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedVestingServiceServer can be embedded for forward compatibility.
type UnimplementedVestingServiceServer struct{}

func (UnimplementedVestingServiceServer) CreateVestingAccount(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateVestingAccount not implemented")
}

func (UnimplementedVestingServiceServer) CreateEmployeeAccount(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateEmployeeAccount not implemented")
}

func (UnimplementedVestingServiceServer) ClaimToken(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ClaimToken not implemented")
}

func (UnimplementedVestingServiceServer) GetEmployee(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetEmployee not implemented")
}

// RegisterVestingServiceServer attaches srv to s.
func RegisterVestingServiceServer(s grpc.ServiceRegistrar, srv VestingServiceServer) {
	s.RegisterService(&VestingService_ServiceDesc, srv)
}

type unaryMethod func(VestingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VestingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(VestingServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// VestingService_ServiceDesc is the grpc.ServiceDesc for the vesting service.
var VestingService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VestingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateVestingAccount",
			Handler:    unaryHandler(CreateVestingAccountFullMethod, VestingServiceServer.CreateVestingAccount),
		},
		{
			MethodName: "CreateEmployeeAccount",
			Handler:    unaryHandler(CreateEmployeeAccountFullMethod, VestingServiceServer.CreateEmployeeAccount),
		},
		{
			MethodName: "ClaimToken",
			Handler:    unaryHandler(ClaimTokenFullMethod, VestingServiceServer.ClaimToken),
		},
		{
			MethodName: "GetEmployee",
			Handler:    unaryHandler(GetEmployeeFullMethod, VestingServiceServer.GetEmployee),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vesting/v1/vesting.proto",
}

// VestingServiceClient is the client API for the vesting service.
type VestingServiceClient interface {
	CreateVestingAccount(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CreateEmployeeAccount(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ClaimToken(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetEmployee(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type vestingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewVestingServiceClient(cc grpc.ClientConnInterface) VestingServiceClient {
	return &vestingServiceClient{cc: cc}
}

func (c *vestingServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vestingServiceClient) CreateVestingAccount(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CreateVestingAccountFullMethod, in, opts)
}

func (c *vestingServiceClient) CreateEmployeeAccount(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CreateEmployeeAccountFullMethod, in, opts)
}

func (c *vestingServiceClient) ClaimToken(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ClaimTokenFullMethod, in, opts)
}

func (c *vestingServiceClient) GetEmployee(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetEmployeeFullMethod, in, opts)
}
