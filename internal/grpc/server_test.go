package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type MockService struct {
	mock.Mock
	updates chan domain.ThreatSnapshot
}

func (m *MockService) Snapshot() domain.ThreatSnapshot {
	return m.Called().Get(0).(domain.ThreatSnapshot)
}

func (m *MockService) Watch(buffer int) (<-chan domain.ThreatSnapshot, func()) {
	m.Called(buffer)
	return m.updates, func() {}
}

func (m *MockService) ScanEmail(ctx context.Context, bodies, urls []string) (domain.ScanResult, error) {
	args := m.Called(ctx, bodies, urls)
	return args.Get(0).(domain.ScanResult), args.Error(1)
}

func (m *MockService) GetSnapshotsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.SnapshotRecord, error) {
	args := m.Called(ctx, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SnapshotRecord), args.Error(1)
}

func newTestServer() (*GRPCServer, *MockService) {
	mockService := &MockService{updates: make(chan domain.ThreatSnapshot, 4)}
	logger, _ := zap.NewDevelopment()
	return &GRPCServer{service: mockService, logger: logger}, mockService
}

func TestGRPCServer_GetSnapshot(t *testing.T) {
	server, mockService := newTestServer()

	session := uuid.New()
	mockService.On("Snapshot").Return(domain.ThreatSnapshot{
		SessionID: session,
		Sequence:  5,
		Composite: 40,
		Band:      domain.RiskMedium,
	})

	resp, err := server.GetSnapshot(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)

	fields := resp.GetFields()
	assert.Equal(t, session.String(), fields["session_id"].GetStringValue())
	assert.Equal(t, float64(5), fields["sequence"].GetNumberValue())
	assert.Equal(t, float64(40), fields["composite"].GetNumberValue())
	assert.Equal(t, "medium", fields["band"].GetStringValue())

	var back domain.ThreatSnapshot
	require.NoError(t, FromStruct(resp, &back))
	assert.Equal(t, session, back.SessionID)
	assert.Equal(t, uint64(5), back.Sequence)
}

func TestGRPCServer_ScanURLs(t *testing.T) {
	server, mockService := newTestServer()

	result := domain.ScanResult{
		Findings: []domain.URLFinding{{URL: "http://192.168.1.10/login", Domain: "192.168.1.10", Score: 65}},
		Score:    domain.ChannelScore{Channel: domain.ChannelEmail, Value: 65},
	}
	mockService.On("ScanEmail", mock.Anything, []string(nil), []string{"http://192.168.1.10/login"}).
		Return(result, nil)

	req, err := structpb.NewList([]any{"http://192.168.1.10/login"})
	require.NoError(t, err)

	resp, err := server.ScanURLs(context.Background(), req)
	require.NoError(t, err)

	var got domain.ScanResult
	require.NoError(t, FromStruct(resp, &got))
	require.Len(t, got.Findings, 1)
	assert.Equal(t, "192.168.1.10", got.Findings[0].Domain)
	assert.Equal(t, float64(65), got.Score.Value)

	mockService.AssertExpectations(t)
}

func TestGRPCServer_ScanURLs_InvalidArgument(t *testing.T) {
	server, mockService := newTestServer()

	req, err := structpb.NewList([]any{"https://example.com", 42})
	require.NoError(t, err)

	resp, err := server.ScanURLs(context.Background(), req)
	assert.Nil(t, resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	mockService.On("ScanEmail", mock.Anything, []string(nil), []string{}).
		Return(domain.ScanResult{}, service.ErrEmptyScan)

	resp, err = server.ScanURLs(context.Background(), &structpb.ListValue{})
	assert.Nil(t, resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCServer_ScanURLs_Internal(t *testing.T) {
	server, mockService := newTestServer()

	mockService.On("ScanEmail", mock.Anything, []string(nil), []string{"https://example.com"}).
		Return(domain.ScanResult{}, errors.New("boom"))

	req, _ := structpb.NewList([]any{"https://example.com"})
	_, err := server.ScanURLs(context.Background(), req)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestGRPCServer_GetSnapshotsByPeriod(t *testing.T) {
	server, mockService := newTestServer()

	start := time.Date(2025, 8, 27, 14, 58, 37, 0, time.UTC)
	end := time.Date(2025, 8, 27, 15, 58, 37, 0, time.UTC)

	records := []*domain.SnapshotRecord{
		{SessionID: uuid.New(), Sequence: 1, Composite: 90, Band: domain.RiskHigh},
	}
	mockService.On("GetSnapshotsByTimeRange", mock.Anything, start, end).Return(records, nil)

	req, err := structpb.NewStruct(map[string]any{
		"start_time": start.Format(time.RFC3339),
		"end_time":   end.Format(time.RFC3339),
	})
	require.NoError(t, err)

	resp, err := server.GetSnapshotsByPeriod(context.Background(), req)
	require.NoError(t, err)

	list := resp.GetFields()["snapshots"].GetListValue().GetValues()
	require.Len(t, list, 1)
	assert.Equal(t, "high", list[0].GetStructValue().GetFields()["band"].GetStringValue())

	mockService.AssertExpectations(t)
}

func TestGRPCServer_GetSnapshotsByPeriod_Empty(t *testing.T) {
	server, mockService := newTestServer()

	start := time.Date(2025, 8, 27, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	mockService.On("GetSnapshotsByTimeRange", mock.Anything, start, end).Return(nil, nil)

	req, _ := structpb.NewStruct(map[string]any{
		"start_time": start.Format(time.RFC3339),
		"end_time":   end.Format(time.RFC3339),
	})

	resp, err := server.GetSnapshotsByPeriod(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, resp.GetFields()["snapshots"].GetListValue())
	assert.Empty(t, resp.GetFields()["snapshots"].GetListValue().GetValues())
}

func TestGRPCServer_GetSnapshotsByPeriod_InvalidTime(t *testing.T) {
	server, mockService := newTestServer()

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"missing", map[string]any{"start_time": time.Now().Format(time.RFC3339)}},
		{"bad start", map[string]any{"start_time": "invalid-time", "end_time": time.Now().Format(time.RFC3339)}},
		{"bad end", map[string]any{"start_time": time.Now().Format(time.RFC3339), "end_time": "later"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := structpb.NewStruct(tt.fields)
			require.NoError(t, err)

			resp, err := server.GetSnapshotsByPeriod(context.Background(), req)
			assert.Nil(t, resp)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}

	mockService.AssertNotCalled(t, "GetSnapshotsByTimeRange", mock.Anything, mock.Anything, mock.Anything)
}

func TestGRPCServer_GetSnapshotsByPeriod_InvalidRange(t *testing.T) {
	server, mockService := newTestServer()

	start := time.Date(2025, 8, 27, 16, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	mockService.On("GetSnapshotsByTimeRange", mock.Anything, start, end).Return(nil, service.ErrInvalidRange)

	req, _ := structpb.NewStruct(map[string]any{
		"start_time": start.Format(time.RFC3339),
		"end_time":   end.Format(time.RFC3339),
	})

	_, err := server.GetSnapshotsByPeriod(context.Background(), req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// dialBufconn поднимает полноценный сервер с интерсепторами поверх bufconn
func dialBufconn(t *testing.T, svc ThreatService) *ThreatServiceClient {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	server := NewGRPCServer(svc, logger)

	lis := bufconn.Listen(1 << 20)
	go func() {
		_ = server.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	return NewThreatServiceClient(conn)
}

func TestGRPCServer_Client(t *testing.T) {
	mockService := &MockService{updates: make(chan domain.ThreatSnapshot, 4)}
	mockService.On("Snapshot").Return(domain.ThreatSnapshot{Sequence: 3, Band: domain.RiskLow})

	client := dialBufconn(t, mockService)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(3), resp.GetFields()["sequence"].GetNumberValue())
	assert.Equal(t, "low", resp.GetFields()["band"].GetStringValue())
}

func TestGRPCServer_WatchSnapshots(t *testing.T) {
	mockService := &MockService{updates: make(chan domain.ThreatSnapshot, 4)}
	mockService.On("Snapshot").Return(domain.ThreatSnapshot{Sequence: 1, Band: domain.RiskLow})
	mockService.On("Watch", watchBuffer).Return()

	client := dialBufconn(t, mockService)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.WatchSnapshots(ctx)
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, float64(1), first.GetFields()["sequence"].GetNumberValue())

	mockService.updates <- domain.ThreatSnapshot{Sequence: 2, Composite: 85, Band: domain.RiskHigh}
	mockService.updates <- domain.ThreatSnapshot{Sequence: 3, Composite: 20, Band: domain.RiskLow}

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, float64(2), second.GetFields()["sequence"].GetNumberValue())
	assert.Equal(t, "high", second.GetFields()["band"].GetStringValue())

	third, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, float64(3), third.GetFields()["sequence"].GetNumberValue())

	// закрытый канал подписки завершает стрим
	close(mockService.updates)
	_, err = stream.Recv()
	assert.Error(t, err)
}
