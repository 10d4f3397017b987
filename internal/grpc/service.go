package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Сервис описан вручную поверх well-known типов protobuf, поэтому генерация кода не нужна.
// Снапшоты передаются как google.protobuf.Struct в JSON-представлении domain.ThreatSnapshot.
const (
	ServiceName = "threatsentry.v1.ThreatService"

	getSnapshotMethod          = "/" + ServiceName + "/GetSnapshot"
	scanURLsMethod             = "/" + ServiceName + "/ScanURLs"
	getSnapshotsByPeriodMethod = "/" + ServiceName + "/GetSnapshotsByPeriod"
	watchSnapshotsMethod       = "/" + ServiceName + "/WatchSnapshots"
)

type ThreatServiceServer interface {
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ScanURLs(context.Context, *structpb.ListValue) (*structpb.Struct, error)
	GetSnapshotsByPeriod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchSnapshots(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

var ThreatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ThreatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
		{MethodName: "ScanURLs", Handler: scanURLsHandler},
		{MethodName: "GetSnapshotsByPeriod", Handler: getSnapshotsByPeriodHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchSnapshots", Handler: watchSnapshotsHandler, ServerStreams: true},
	},
	Metadata: "threatsentry/v1/threat.proto",
}

func RegisterThreatServiceServer(s grpc.ServiceRegistrar, srv ThreatServiceServer) {
	s.RegisterService(&ThreatServiceDesc, srv)
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThreatServiceServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getSnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ThreatServiceServer).GetSnapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func scanURLsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThreatServiceServer).ScanURLs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scanURLsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ThreatServiceServer).ScanURLs(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getSnapshotsByPeriodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThreatServiceServer).GetSnapshotsByPeriod(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getSnapshotsByPeriodMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ThreatServiceServer).GetSnapshotsByPeriod(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ThreatServiceServer).WatchSnapshots(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// ThreatServiceClient клиент к ThreatService
type ThreatServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewThreatServiceClient(cc grpc.ClientConnInterface) *ThreatServiceClient {
	return &ThreatServiceClient{cc: cc}
}

func (c *ThreatServiceClient) GetSnapshot(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getSnapshotMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ThreatServiceClient) ScanURLs(ctx context.Context, in *structpb.ListValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, scanURLsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ThreatServiceClient) GetSnapshotsByPeriod(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getSnapshotsByPeriodMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ThreatServiceClient) WatchSnapshots(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ThreatServiceDesc.Streams[0], watchSnapshotsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
