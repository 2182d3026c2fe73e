package alerting

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestRuleEngineRecommend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(`rules:
  - id: auth-errors
    match:
      service: "auth"
      kind: "SEVERITY_SHIFT"
    recommendations: ["Check identity provider latency"]
  - id: critical
    match:
      min_severity: "critical"
    recommendations: ["Page the on-call engineer"]
  - id: db-timeouts
    match:
      summary_contains: ["timeout"]
    recommendations: ["Inspect connection pool"]
`), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	engine, err := NewRuleEngine(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	recs := engine.Recommend(models.Alert{Service: "auth", Kind: models.KindSeverityShift, Level: models.SeverityHigh})
	if len(recs) != 1 || recs[0] != "Check identity provider latency" {
		t.Fatalf("unexpected recommendations %v", recs)
	}
	recs = engine.Recommend(models.Alert{Service: "db", Kind: models.KindServiceErrorRate, Level: models.SeverityCritical, Summary: "Connection Timeout burst"})
	if len(recs) != 2 {
		t.Fatalf("expected critical and timeout rules, got %v", recs)
	}
}

func TestRuleEngineNoFile(t *testing.T) {
	engine, err := NewRuleEngine("non-existent", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if engine != nil {
		t.Fatalf("expected nil engine when file missing")
	}
	if recs := engine.Recommend(models.Alert{}); recs != nil {
		t.Fatalf("expected nil engine to recommend nothing")
	}
}

func TestFormatIncludesEssentials(t *testing.T) {
	a := models.Alert{
		Kind:            models.KindSeverityShift,
		Service:         "auth",
		Level:           models.SeverityHigh,
		Score:           7.5,
		Timestamp:       time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		SuppressedUntil: time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC),
		Occurrences:     3,
		Summary:         "error_ratio rose to 0.40",
		Recommendations: []string{"Check identity provider latency"},
	}
	msg := Format(a)
	for _, want := range []string{"[HIGH] Severity Shift on auth", "Occurrences: 3", "error_ratio rose", "Check identity provider latency"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in message:\n%s", want, msg)
		}
	}
}

func TestFormatReport(t *testing.T) {
	snap := models.Snapshot{
		System: models.SystemSnapshot{
			Health:   models.HealthScore{Score: 80},
			Counts:   map[string]int{"INFO": 90, "ERROR": 10},
			Total:    100,
			Services: 2,
		},
		Services: []models.ServiceSnapshot{
			{Service: "auth", Total: 70, Health: models.HealthScore{Score: 75}},
			{Service: "db", Total: 30, Health: models.HealthScore{Score: 95}},
		},
	}
	msg := FormatReport(Report{Period: time.Hour, Snapshot: snap, Emitted: 2})
	for _, want := range []string{"ERROR: 10 (10.0%)", "auth: 70 events", "Alerts emitted: 2", "Status: high error rate"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in report:\n%s", want, msg)
		}
	}
}
