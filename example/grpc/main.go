package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
	appgrpc "github.com/CoolE88/threat-sentry/internal/grpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	conn, err := grpc.NewClient("localhost:9090",
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
	}()

	client := appgrpc.NewThreatServiceClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Тест 1: GetSnapshot
	fmt.Println("=== Test 1: GetSnapshot ===")
	testGetSnapshot(ctx, client)

	// Тест 2: ScanURLs
	fmt.Println("\n=== Test 2: ScanURLs ===")
	testScanURLs(ctx, client)

	// Тест 3: GetSnapshotsByPeriod
	fmt.Println("\n=== Test 3: GetSnapshotsByPeriod ===")
	testGetSnapshotsByPeriod(ctx, client)

	// Тест 4: WatchSnapshots
	fmt.Println("\n=== Test 4: WatchSnapshots ===")
	testWatchSnapshots(ctx, client, 3)
}

func logError(err error) {
	if st, ok := status.FromError(err); ok {
		log.Printf("gRPC error: %s (code: %s)", st.Message(), st.Code())
	} else {
		log.Printf("Error: %v", err)
	}
}

func printSnapshot(snap domain.ThreatSnapshot) {
	fmt.Printf("Session %s seq=%d composite=%.1f band=%s active=%d\n",
		snap.SessionID, snap.Sequence, snap.Composite, snap.Band, snap.ActiveChannels)
	for _, ch := range snap.Channels {
		fmt.Printf("  %-8s %-12s %.1f\n", ch.Channel, ch.Status, ch.Score)
	}
}

func testGetSnapshot(ctx context.Context, client *appgrpc.ThreatServiceClient) {
	resp, err := client.GetSnapshot(ctx)
	if err != nil {
		logError(err)
		return
	}

	var snap domain.ThreatSnapshot
	if err := appgrpc.FromStruct(resp, &snap); err != nil {
		log.Printf("Failed to decode snapshot: %v", err)
		return
	}
	printSnapshot(snap)
}

func testScanURLs(ctx context.Context, client *appgrpc.ThreatServiceClient) {
	req, err := structpb.NewList([]any{
		"https://example.com/docs",
		"http://192.168.1.10/login",
		"https://secure-paypa1-verify.xyz/account/update",
		"http://[::1",
	})
	if err != nil {
		log.Printf("Failed to build request: %v", err)
		return
	}

	resp, err := client.ScanURLs(ctx, req)
	if err != nil {
		logError(err)
		return
	}

	var res domain.ScanResult
	if err := appgrpc.FromStruct(resp, &res); err != nil {
		log.Printf("Failed to decode scan result: %v", err)
		return
	}

	fmt.Printf("Email channel score: %.1f\n", res.Score.Value)
	for i, f := range res.Findings {
		fmt.Printf("%d. %s score=%.0f flags=%v\n", i+1, f.URL, f.Score, f.Flags)
	}

	// Тест невалидного запроса
	fmt.Println("Testing empty URL list...")
	if _, err := client.ScanURLs(ctx, &structpb.ListValue{}); err != nil {
		if st, ok := status.FromError(err); ok {
			fmt.Printf("Expected error: %s (code: %s)\n", st.Message(), st.Code())
		}
	}
}

func testGetSnapshotsByPeriod(ctx context.Context, client *appgrpc.ThreatServiceClient) {
	req, err := structpb.NewStruct(map[string]any{
		"start_time": time.Now().Add(-time.Hour).Format(time.RFC3339),
		"end_time":   time.Now().Add(time.Minute).Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Failed to build request: %v", err)
		return
	}

	resp, err := client.GetSnapshotsByPeriod(ctx, req)
	if err != nil {
		logError(err)
		return
	}

	var out struct {
		Snapshots []domain.SnapshotRecord `json:"snapshots"`
	}
	if err := appgrpc.FromStruct(resp, &out); err != nil {
		log.Printf("Failed to decode snapshots: %v", err)
		return
	}

	fmt.Printf("Found %d journaled snapshots\n", len(out.Snapshots))
	for i, rec := range out.Snapshots {
		fmt.Printf("%d. seq=%d composite=%.1f band=%s\n", i+1, rec.Sequence, rec.Composite, rec.Band)
	}

	// Тест невалидного формата времени
	fmt.Println("Testing invalid time format...")
	bad, _ := structpb.NewStruct(map[string]any{"start_time": "invalid-date", "end_time": "now"})
	if _, err := client.GetSnapshotsByPeriod(ctx, bad); err != nil {
		if st, ok := status.FromError(err); ok {
			fmt.Printf("Expected error: %s (code: %s)\n", st.Message(), st.Code())
		}
	}
}

func testWatchSnapshots(ctx context.Context, client *appgrpc.ThreatServiceClient, limit int) {
	stream, err := client.WatchSnapshots(ctx)
	if err != nil {
		logError(err)
		return
	}

	for i := 0; i < limit; i++ {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			fmt.Println("Stream closed by server")
			return
		}
		if err != nil {
			logError(err)
			return
		}

		var snap domain.ThreatSnapshot
		if err := appgrpc.FromStruct(msg, &snap); err != nil {
			log.Printf("Failed to decode snapshot: %v", err)
			return
		}
		printSnapshot(snap)
	}
}
