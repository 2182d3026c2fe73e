package engine

import (
	"testing"

	"github.com/miradorstack/mirador-sentinel/internal/baseline"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func windowOf(total, errs, crits int) (models.Window, models.FeatureVector) {
	w := models.Window{Service: "db", Total: total}
	w.Counts[models.LevelError] = errs
	w.Counts[models.LevelCritical] = crits
	w.Counts[models.LevelInfo] = total - errs - crits
	var v models.FeatureVector
	v[models.FeatureErrorRatio] = float64(errs) / float64(total)
	v[models.FeatureCriticalRatio] = float64(crits) / float64(total)
	return w, v
}

func TestThresholdLayer(t *testing.T) {
	h := newHarness(t, nil)

	w, v := windowOf(10, 4, 0)
	got := h.orch.candidates(detection{window: w, vector: v})
	if len(got) != 1 || got[0].Kind != models.KindServiceErrorRate || got[0].Level != models.SeverityHigh {
		t.Fatalf("expected high error-rate candidate, got %+v", got)
	}

	w, v = windowOf(10, 0, 2)
	got = h.orch.candidates(detection{window: w, vector: v})
	if len(got) != 1 || got[0].Level != models.SeverityCritical {
		t.Fatalf("expected critical candidate, got %+v", got)
	}

	w, v = windowOf(3, 3, 0)
	if got := h.orch.candidates(detection{window: w, vector: v}); len(got) != 0 {
		t.Fatalf("expected min-events guard, got %+v", got)
	}
}

func TestSeverityShiftOwnsTransition(t *testing.T) {
	h := newHarness(t, nil)
	w, v := windowOf(100, 40, 0)
	flags := baseline.Result{Flags: []models.Signal{
		{Detector: models.DetectorBaseline, Metric: baseline.MetricErrorRatio, Value: 0.4, Score: 12, Threshold: 3},
	}}
	got := h.orch.candidates(detection{window: w, vector: v, baseline: flags, pattern: 0.9, ready: true})
	if len(got) != 1 || got[0].Kind != models.KindSeverityShift {
		t.Fatalf("expected only the severity shift, got %+v", got)
	}
}

func TestDownwardDeviationNeverAlerts(t *testing.T) {
	h := newHarness(t, nil)
	w, v := windowOf(100, 0, 0)
	flags := baseline.Result{Flags: []models.Signal{
		{Detector: models.DetectorBaseline, Metric: baseline.MetricEventRate, Value: 0.1, Score: -8, Threshold: 3},
		{Detector: models.DetectorBaseline, Metric: baseline.MetricErrorRatio, Value: 0, Score: -4, Threshold: 3},
	}}
	if got := h.orch.candidates(detection{window: w, vector: v, baseline: flags}); len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
}

func TestVolumeAndCriticalShift(t *testing.T) {
	h := newHarness(t, nil)
	w, v := windowOf(100, 0, 5)
	flags := baseline.Result{Flags: []models.Signal{
		{Detector: models.DetectorBaseline, Metric: baseline.MetricEventRate, Value: 9, Baseline: 1, Score: 7, Threshold: 3},
		{Detector: models.DetectorBaseline, Metric: baseline.MetricCriticalRatio, Value: 0.05, Score: 5, Threshold: 3},
	}}
	got := h.orch.candidates(detection{window: w, vector: v, baseline: flags})
	if len(got) != 2 {
		t.Fatalf("expected volume spike and severity shift, got %+v", got)
	}
	if got[0].Kind != models.KindVolumeSpike || got[0].Level != models.SeverityHigh {
		t.Fatalf("unexpected volume candidate %+v", got[0])
	}
	if got[1].Kind != models.KindSeverityShift || got[1].Level != models.SeverityCritical {
		t.Fatalf("unexpected shift candidate %+v", got[1])
	}
}

func TestPatternLayerOnlyWhenQuiet(t *testing.T) {
	h := newHarness(t, nil)
	w, v := windowOf(100, 0, 0)
	got := h.orch.candidates(detection{window: w, vector: v, pattern: 0.9, ready: true})
	if len(got) != 1 || got[0].Kind != models.KindPatternAnomaly {
		t.Fatalf("expected pattern anomaly, got %+v", got)
	}
	if got := h.orch.candidates(detection{window: w, vector: v, pattern: 0.9, ready: false}); len(got) != 0 {
		t.Fatalf("expected no pattern alert before the model is ready")
	}
	if anomalyInput(0.4, true) != 0 || anomalyInput(1, true) != 1 || anomalyInput(1, false) != 0 {
		t.Fatalf("unexpected anomaly input mapping")
	}
}
