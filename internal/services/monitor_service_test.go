package services

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/buffer"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type sourceStub struct{}

func (sourceStub) Snapshot() models.Snapshot {
	return models.Snapshot{
		System:   models.SystemSnapshot{Health: models.HealthScore{Score: 75}, Services: 1},
		Services: []models.ServiceSnapshot{{Service: "auth", Health: models.HealthScore{Score: 75}}},
	}
}

func (sourceStub) Service(name string) (models.ServiceSnapshot, bool) {
	if name != "auth" {
		return models.ServiceSnapshot{}, false
	}
	return models.ServiceSnapshot{Service: "auth", Health: models.HealthScore{Score: 75}}, true
}

func (sourceStub) Alerts(limit int) []models.Alert {
	all := []models.Alert{
		{ID: "a3", Kind: models.KindServiceErrorRate, Service: "auth", Level: models.SeverityCritical},
		{ID: "a2", Kind: models.KindSeverityShift, Service: "auth", Level: models.SeverityHigh},
		{ID: "a1", Kind: models.KindVolumeSpike, Service: "db", Level: models.SeverityMedium},
	}
	if limit < len(all) {
		return all[:limit]
	}
	return all
}

func dial(t *testing.T, svc api.MonitorServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := api.NewServerWithListener(config.ServerConfig{}, lis, svc)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newService(buf *buffer.Buffer) *MonitorService {
	return NewMonitorService(nil, sourceStub{}, ingest.New(buf, 0, nil), 2)
}

func TestGetSnapshotOverGRPC(t *testing.T) {
	client := api.NewMonitorClient(dial(t, newService(buffer.New(buffer.Options{}))))
	ctx := context.Background()

	out, err := client.GetSnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	health := out.GetFields()["system"].GetStructValue().GetFields()["health"].GetStructValue()
	if got := health.GetFields()["score"].GetNumberValue(); got != 75 {
		t.Fatalf("expected system score 75, got %v", got)
	}

	req, _ := structpb.NewStruct(map[string]any{"service": "auth"})
	out, err = client.GetSnapshot(ctx, req)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if got := out.GetFields()["service"].GetStringValue(); got != "auth" {
		t.Fatalf("expected auth snapshot, got %q", got)
	}

	req, _ = structpb.NewStruct(map[string]any{"service": "billing"})
	if _, err := client.GetSnapshot(ctx, req); status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListAlertsOverGRPC(t *testing.T) {
	client := api.NewMonitorClient(dial(t, newService(buffer.New(buffer.Options{}))))
	ctx := context.Background()

	req, _ := structpb.NewStruct(map[string]any{"limit": 2})
	out, err := client.ListAlerts(ctx, req)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	var list api.AlertList
	if err := api.FromStruct(out, &list); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(list.Alerts) != 2 || list.Alerts[0].ID != "a3" || list.Alerts[0].Level != models.SeverityCritical {
		t.Fatalf("unexpected alerts %+v", list.Alerts)
	}

	req, _ = structpb.NewStruct(map[string]any{"limit": -1})
	if _, err := client.ListAlerts(ctx, req); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestIngestLogsOverGRPC(t *testing.T) {
	buf := buffer.New(buffer.Options{Retention: time.Hour, MaxFutureSkew: time.Minute})
	conn := dial(t, newService(buf))
	client := api.NewMonitorClient(conn)
	ctx := context.Background()

	req, _ := structpb.NewStruct(map[string]any{
		"logs": []any{
			map[string]any{"service": "auth", "severity": "ERROR", "message": "token expired"},
			map[string]any{"service": "auth", "severity": "SHOUT", "message": "bad"},
		},
	})
	out, err := client.IngestLogs(ctx, req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var res ingest.Result
	if err := api.FromStruct(out, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Accepted != 1 || res.Rejected != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if buf.Count("auth") != 1 {
		t.Fatalf("expected one buffered event, got %d", buf.Count("auth"))
	}

	tooMany, _ := structpb.NewStruct(map[string]any{
		"logs": []any{
			map[string]any{"service": "a", "severity": "INFO"},
			map[string]any{"service": "a", "severity": "INFO"},
			map[string]any{"service": "a", "severity": "INFO"},
		},
	})
	if _, err := client.IngestLogs(ctx, tooMany); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for oversized batch, got %v", err)
	}

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.MonitorServiceName})
	if err != nil || hc.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving health, got %v (%v)", hc.GetStatus(), err)
	}
}

func TestUnconfiguredService(t *testing.T) {
	svc := NewMonitorService(nil, nil, nil, 0)
	ctx := context.Background()
	if _, err := svc.GetSnapshot(ctx, &structpb.Struct{}); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
	if _, err := svc.IngestLogs(ctx, &structpb.Struct{}); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
	if _, err := svc.ListAlerts(ctx, nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
