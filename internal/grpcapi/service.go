// Package grpcapi serves read-only trust queries over gRPC.
//
// Messages are google.protobuf.Struct values so the service needs no protoc
// step. Request and response fields mirror the HTTP query API.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tisp.trust.v1.TrustQuery"

const (
	methodCheckTrust      = "/" + ServiceName + "/CheckTrust"
	methodCanAccess       = "/" + ServiceName + "/CanAccess"
	methodSharingPartners = "/" + ServiceName + "/SharingPartners"
)

// TrustQueryServer is the server API for the TrustQuery service.
type TrustQueryServer interface {
	CheckTrust(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CanAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SharingPartners(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedTrustQueryServer can be embedded for forward compatibility.
type UnimplementedTrustQueryServer struct{}

func (UnimplementedTrustQueryServer) CheckTrust(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method CheckTrust not implemented")
}
func (UnimplementedTrustQueryServer) CanAccess(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method CanAccess not implemented")
}
func (UnimplementedTrustQueryServer) SharingPartners(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SharingPartners not implemented")
}

// RegisterTrustQueryServer registers the service on a gRPC server.
func RegisterTrustQueryServer(s grpc.ServiceRegistrar, srv TrustQueryServer) {
	s.RegisterService(&TrustQuery_ServiceDesc, srv)
}

// TrustQueryClient is the client API for the TrustQuery service.
type TrustQueryClient interface {
	CheckTrust(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CanAccess(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SharingPartners(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type trustQueryClient struct{ cc grpc.ClientConnInterface }

func NewTrustQueryClient(cc grpc.ClientConnInterface) TrustQueryClient {
	return &trustQueryClient{cc: cc}
}

func (c *trustQueryClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *trustQueryClient) CheckTrust(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCheckTrust, in, opts)
}

func (c *trustQueryClient) CanAccess(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCanAccess, in, opts)
}

func (c *trustQueryClient) SharingPartners(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodSharingPartners, in, opts)
}

type unaryMethod func(TrustQueryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// handler adapts a TrustQueryServer method to a grpc.MethodDesc handler.
func handler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TrustQueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TrustQueryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, h)
	}
}

// TrustQuery_ServiceDesc is the grpc.ServiceDesc for the TrustQuery service.
var TrustQuery_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrustQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckTrust", Handler: handler(methodCheckTrust, TrustQueryServer.CheckTrust)},
		{MethodName: "CanAccess", Handler: handler(methodCanAccess, TrustQueryServer.CanAccess)},
		{MethodName: "SharingPartners", Handler: handler(methodSharingPartners, TrustQueryServer.SharingPartners)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tisp/trust/v1/query.proto",
}
