package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// MonitorServiceName is the fully qualified gRPC service name.
const MonitorServiceName = "mirador.sentinel.v1.Monitor"

// Full method names.
const (
	MethodGetSnapshot = "/" + MonitorServiceName + "/GetSnapshot"
	MethodListAlerts  = "/" + MonitorServiceName + "/ListAlerts"
	MethodIngestLogs  = "/" + MonitorServiceName + "/IngestLogs"
)

// MonitorServer is the server API for the Monitor service. Requests and replies are
// google.protobuf.Struct documents shaped like the HTTP API's JSON bodies.
type MonitorServer interface {
	GetSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListAlerts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	IngestLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type monitorCall func(srv MonitorServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// methodHandler matches grpc.MethodDesc.Handler.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler(fullMethod string, call monitorCall) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MonitorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MonitorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// MonitorServiceDesc describes the Monitor service for grpc.Server.RegisterService.
var MonitorServiceDesc = grpc.ServiceDesc{
	ServiceName: MonitorServiceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: unaryHandler(MethodGetSnapshot, MonitorServer.GetSnapshot)},
		{MethodName: "ListAlerts", Handler: unaryHandler(MethodListAlerts, MonitorServer.ListAlerts)},
		{MethodName: "IngestLogs", Handler: unaryHandler(MethodIngestLogs, MonitorServer.IngestLogs)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/sentinel/v1/monitor.proto",
}

// RegisterMonitorServer registers srv on s.
func RegisterMonitorServer(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&MonitorServiceDesc, srv)
}

// MonitorClient calls the Monitor service.
type MonitorClient struct {
	cc grpc.ClientConnInterface
}

// NewMonitorClient wraps a client connection.
func NewMonitorClient(cc grpc.ClientConnInterface) *MonitorClient {
	return &MonitorClient{cc: cc}
}

func (c *MonitorClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSnapshot returns the system snapshot, or one service's when req has "service".
func (c *MonitorClient) GetSnapshot(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSnapshot, req, opts...)
}

// ListAlerts returns recent alerts; req may carry "limit".
func (c *MonitorClient) ListAlerts(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListAlerts, req, opts...)
}

// IngestLogs submits {"logs": [...]} and returns the ingest result.
func (c *MonitorClient) IngestLogs(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodIngestLogs, req, opts...)
}
