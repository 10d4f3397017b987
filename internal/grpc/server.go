package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/metrics"
	"github.com/CoolE88/threat-sentry/internal/service"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// watchBuffer буфер подписки одного стрима
const watchBuffer = 16

// ThreatService описывает бизнес-логику, доступную по gRPC
type ThreatService interface {
	Snapshot() domain.ThreatSnapshot
	Watch(buffer int) (<-chan domain.ThreatSnapshot, func())
	ScanEmail(ctx context.Context, bodies, urls []string) (domain.ScanResult, error)
	GetSnapshotsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.SnapshotRecord, error)
}

// GRPCServer реализует gRPC сервер с метриками и логированием
type GRPCServer struct {
	server  *grpc.Server
	service ThreatService
	logger  *zap.Logger
}

func NewGRPCServer(service ThreatService, logger *zap.Logger) *GRPCServer {
	loggingOpts := []logging.Option{logging.WithLogOnEvents(logging.StartCall, logging.FinishCall)}

	unary := grpc.ChainUnaryInterceptor(
		logging.UnaryServerInterceptor(interceptorLogger(logger), loggingOpts...),
		grpc_prometheus.UnaryServerInterceptor,
		unaryMetricsInterceptor(),
	)
	stream := grpc.ChainStreamInterceptor(
		logging.StreamServerInterceptor(interceptorLogger(logger), loggingOpts...),
		grpc_prometheus.StreamServerInterceptor,
		streamMetricsInterceptor(),
	)

	s := &GRPCServer{
		server:  grpc.NewServer(unary, stream),
		service: service,
		logger:  logger,
	}

	RegisterThreatServiceServer(s.server, s)
	reflection.Register(s.server)

	grpc_prometheus.Register(s.server)
	grpc_prometheus.EnableHandlingTimeHistogram()

	return s
}

func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
	return s.server.Serve(lis)
}

func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down gRPC server")

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}

// Custom metrics interceptor для детального отслеживания статусов и длительности с статусом
func unaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)
		observe(info.FullMethod, start, err)

		return resp, err
	}
}

func streamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()

		err := handler(srv, ss)
		observe(info.FullMethod, start, err)

		return err
	}
}

func observe(method string, start time.Time, err error) {
	statusCode := codes.OK.String()
	if err != nil {
		if st, ok := status.FromError(err); ok {
			statusCode = st.Code().String()
		} else {
			statusCode = codes.Unknown.String()
		}
	}

	metrics.GRPCRequests.WithLabelValues(method, statusCode).Inc()
	metrics.GRPCRequestDuration.WithLabelValues(method, statusCode).Observe(time.Since(start).Seconds())
}

// Logger adapter для grpc middleware
func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(_ context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			f = append(f, zap.Any(key, fields[i+1]))
		}
		logger := l.WithOptions(zap.AddCallerSkip(1)).With(f...)

		switch lvl {
		case logging.LevelDebug:
			logger.Debug(msg)
		case logging.LevelInfo:
			logger.Info(msg)
		case logging.LevelWarn:
			logger.Warn(msg)
		case logging.LevelError:
			logger.Error(msg)
		default:
			logger.Info(msg)
		}
	})
}

func (s *GRPCServer) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.service.Snapshot())
	if err != nil {
		s.logger.Error("Failed to encode snapshot", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode snapshot")
	}
	return out, nil
}

func (s *GRPCServer) ScanURLs(ctx context.Context, req *structpb.ListValue) (*structpb.Struct, error) {
	urls := make([]string, 0, len(req.GetValues()))
	for _, v := range req.GetValues() {
		str, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "urls must be strings")
		}
		urls = append(urls, str.StringValue)
	}

	res, err := s.service.ScanEmail(ctx, nil, urls)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedInput) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("Failed to scan URLs", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to scan URLs")
	}

	out, err := toStruct(res)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode scan result")
	}
	return out, nil
}

func (s *GRPCServer) GetSnapshotsByPeriod(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	startStr := req.GetFields()["start_time"].GetStringValue()
	endStr := req.GetFields()["end_time"].GetStringValue()
	if startStr == "" || endStr == "" {
		return nil, status.Error(codes.InvalidArgument, "start_time and end_time are required")
	}

	startTime, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid start_time format, expected RFC3339")
	}

	endTime, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid end_time format, expected RFC3339")
	}

	data, err := s.service.GetSnapshotsByTimeRange(ctx, startTime, endTime)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRange) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("Failed to get snapshots by period", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to retrieve data")
	}

	if data == nil {
		data = []*domain.SnapshotRecord{}
	}
	out, err := toStruct(map[string]any{"snapshots": data})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode snapshots")
	}
	return out, nil
}

// WatchSnapshots сначала отдаёт текущий снапшот, затем каждый опубликованный
func (s *GRPCServer) WatchSnapshots(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	updates, cancel := s.service.Watch(watchBuffer)
	defer cancel()

	send := func(snap domain.ThreatSnapshot) error {
		out, err := toStruct(snap)
		if err != nil {
			return status.Error(codes.Internal, "failed to encode snapshot")
		}
		return stream.Send(out)
	}

	if err := send(s.service.Snapshot()); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(snap); err != nil {
				return err
			}
		}
	}
}

// toStruct переводит значение в Struct через его JSON-представление
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromStruct обратное преобразование для клиентов
func FromStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
