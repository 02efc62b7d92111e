package transport

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC service path a client dials against.
const serviceName = "libpolycall.CommandService"

// CommandExecutor is the capability the transport layer needs from
// the core: decode a Command Protocol message, run it through the
// handler registry, and encode the Response back to wire bytes.
//
// protocol.State and the effective permission mask are supplied by
// the implementation (typically a thin adapter over a
// protocol.HandlerRegistry plus a per-connection protocol.State), so
// this package stays ignorant of security and registry internals.
type CommandExecutor interface {
	ExecuteWire(ctx context.Context, requestBytes []byte) (responseBytes []byte, err error)
}

// Service adapts a CommandExecutor to the gRPC raw-bytes RPC.
type Service struct {
	executor CommandExecutor
}

// NewService wraps executor for registration with a *grpc.Server.
func NewService(executor CommandExecutor) *Service {
	return &Service{executor: executor}
}

func (s *Service) execute(ctx context.Context, req *RawBytes) (*RawBytes, error) {
	respBytes, err := s.executor.ExecuteWire(ctx, req.Data)
	if err != nil {
		return nil, err
	}
	return &RawBytes{Data: respBytes}, nil
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(RawBytes)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).execute(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Execute"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).execute(ctx, req.(*RawBytes))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is hand-registered rather than protoc-generated: the
// wire layout is already fully specified by internal/protocol, so the
// RPC method is a single opaque bytes-in/bytes-out call (see codec.go).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/transport/service.go",
}

// Call invokes the Execute RPC against conn with the given
// already-encoded Command Protocol request bytes.
func Call(ctx context.Context, conn *grpc.ClientConn, requestBytes []byte) ([]byte, error) {
	req := &RawBytes{Data: requestBytes}
	resp := new(RawBytes)
	err := conn.Invoke(ctx, "/"+serviceName+"/Execute", req, resp, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
