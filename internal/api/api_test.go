package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type sourceStub struct {
	snap      models.Snapshot
	alerts    []models.Alert
	lastLimit int
}

func (s *sourceStub) Snapshot() models.Snapshot { return s.snap }

func (s *sourceStub) Service(name string) (models.ServiceSnapshot, bool) {
	for _, svc := range s.snap.Services {
		if svc.Service == name {
			return svc, true
		}
	}
	return models.ServiceSnapshot{}, false
}

func (s *sourceStub) Alerts(limit int) []models.Alert {
	s.lastLimit = limit
	if limit < len(s.alerts) {
		return s.alerts[:limit]
	}
	return s.alerts
}

type sinkStub struct {
	events []models.LogEvent
}

func (s *sinkStub) Push(ev models.LogEvent) error {
	if ev.Service == "" {
		return errMissingService
	}
	s.events = append(s.events, ev)
	return nil
}

var errMissingService = errors.New("missing service")

func newStubSource() *sourceStub {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &sourceStub{
		snap: models.Snapshot{
			System: models.SystemSnapshot{Health: models.HealthScore{Score: 92, Timestamp: now}, Services: 1, Total: 10},
			Services: []models.ServiceSnapshot{{
				Service: "auth",
				Health:  models.HealthScore{Score: 92, Timestamp: now},
				Counts:  map[string]int{"INFO": 9, "ERROR": 1},
				Total:   10,
			}},
		},
		alerts: []models.Alert{
			{ID: "a2", Kind: models.KindSeverityShift, Service: "auth", Level: models.SeverityHigh},
			{ID: "a1", Kind: models.KindVolumeSpike, Service: "auth", Level: models.SeverityMedium},
		},
	}
}

func newTestHandler(t *testing.T) (http.Handler, *sourceStub, *sinkStub) {
	t.Helper()
	src := newStubSource()
	sink := &sinkStub{}
	h := NewHTTPHandler(HTTPOptions{
		Source:   src,
		Ingestor: ingest.New(sink, 3, nil),
		Gatherer: prometheus.NewRegistry(),
	})
	return h, src, sink
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPSnapshotAndService(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/api/v1/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.System.Health.Score != 92 || len(snap.Services) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	rec = serve(h, http.MethodGet, "/api/v1/services/auth", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"service":"auth"`) {
		t.Fatalf("unexpected service response %d %s", rec.Code, rec.Body.String())
	}
	if rec = serve(h, http.MethodGet, "/api/v1/services/billing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown service, got %d", rec.Code)
	}
}

func TestHTTPAlertsLimit(t *testing.T) {
	h, src, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/api/v1/alerts?limit=1", "")
	var list AlertList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(list.Alerts) != 1 || list.Alerts[0].ID != "a2" {
		t.Fatalf("unexpected alerts %+v", list.Alerts)
	}

	serve(h, http.MethodGet, "/api/v1/alerts", "")
	if src.lastLimit != 50 {
		t.Fatalf("expected default limit 50, got %d", src.lastLimit)
	}
	if rec = serve(h, http.MethodGet, "/api/v1/alerts?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestHTTPIngest(t *testing.T) {
	h, _, sink := newTestHandler(t)

	body := `{"logs":[
		{"service":"auth","severity":"ERROR","message":"boom","timestamp":"2024-05-01T12:00:00Z"},
		{"service":"","severity":"INFO","message":"orphan"},
		{"service":"auth","severity":"LOUD","message":"bad level"}
	]}`
	rec := serve(h, http.MethodPost, "/api/v1/logs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Accepted != 1 || res.Rejected != 2 || len(res.Errors) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sink.events) != 1 || sink.events[0].Level != models.LevelError {
		t.Fatalf("unexpected events %+v", sink.events)
	}

	rec = serve(h, http.MethodPost, "/api/v1/log", `{"service":"db","severity":"WARN","message":"slow"}`)
	if rec.Code != http.StatusAccepted || len(sink.events) != 2 {
		t.Fatalf("single log not accepted: %d %s", rec.Code, rec.Body.String())
	}

	if rec = serve(h, http.MethodPost, "/api/v1/log", `{"service":"db","severity":"nope"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when every record is rejected, got %d", rec.Code)
	}
	if rec = serve(h, http.MethodPost, "/api/v1/logs", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
	tooMany := `{"logs":[{"service":"a","severity":"INFO"},{"service":"a","severity":"INFO"},{"service":"a","severity":"INFO"},{"service":"a","severity":"INFO"}]}`
	if rec = serve(h, http.MethodPost, "/api/v1/logs", tooMany); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized batch, got %d", rec.Code)
	}
}

func TestHTTPHealthzAndMethods(t *testing.T) {
	h, _, _ := newTestHandler(t)
	if rec := serve(h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/v1/logs", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET on ingest route, got %d", rec.Code)
	}
}

func TestStructConversions(t *testing.T) {
	src := newStubSource()
	s, err := ToStruct(src.snap)
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	system := s.GetFields()["system"].GetStructValue()
	if got := system.GetFields()["total"].GetNumberValue(); got != 10 {
		t.Fatalf("expected total 10, got %v", got)
	}

	batch, err := structpb.NewStruct(map[string]any{
		"logs": []any{
			map[string]any{"service": "auth", "severity": "INFO", "metadata": map[string]any{"region": "eu"}},
			map[string]any{"service": "db", "severity": "ERROR"},
		},
	})
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}
	records, err := RecordsFromStruct(batch)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 2 || records[0].Metadata["region"] != "eu" || records[1].Service != "db" {
		t.Fatalf("unexpected records %+v", records)
	}

	single, _ := structpb.NewStruct(map[string]any{"service": "auth", "severity": "WARN", "message": "slow"})
	records, err = RecordsFromStruct(single)
	if err != nil || len(records) != 1 || records[0].Severity != "WARN" {
		t.Fatalf("unexpected single record %+v (%v)", records, err)
	}

	req, _ := structpb.NewStruct(map[string]any{"limit": 7, "service": "auth"})
	if IntField(req, "limit", 50) != 7 || IntField(req, "missing", 50) != 50 {
		t.Fatalf("unexpected int field handling")
	}
	if StringField(req, "service") != "auth" || StringField(req, "limit") != "" {
		t.Fatalf("unexpected string field handling")
	}
}
