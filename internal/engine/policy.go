package engine

import (
	"fmt"
	"math"

	"github.com/miradorstack/mirador-sentinel/internal/alerting"
	"github.com/miradorstack/mirador-sentinel/internal/baseline"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Thresholds are the absolute per-service limits of the threshold layer. Zero counts disable
// the count checks.
type Thresholds struct {
	ErrorRate     float64
	CriticalRate  float64
	ErrorCount    int
	CriticalCount int
	MinEvents     int
}

// detection is everything the layers produced for one service window.
type detection struct {
	window   models.Window
	vector   models.FeatureVector
	baseline baseline.Result
	pattern  float64
	ready    bool
}

// candidates applies the layer precedence: baseline deviations first, the threshold
// layer only without a severity shift, the pattern layer only when nothing else fired.
func (o *Orchestrator) candidates(d detection) []alerting.Candidate {
	var out []alerting.Candidate

	var volume, shift []models.Signal
	criticalMoved := false
	for _, sig := range d.baseline.Flags {
		if sig.Score <= 0 {
			continue
		}
		switch sig.Metric {
		case baseline.MetricEventRate:
			volume = append(volume, sig)
		case baseline.MetricCriticalRatio:
			criticalMoved = true
			shift = append(shift, sig)
		case baseline.MetricErrorRatio:
			shift = append(shift, sig)
		}
	}

	if len(volume) > 0 {
		sig := volume[0]
		level := models.SeverityMedium
		if sig.Score > 2*sig.Threshold {
			level = models.SeverityHigh
		}
		out = append(out, alerting.Candidate{
			Kind:    models.KindVolumeSpike,
			Level:   level,
			Score:   sig.Score,
			Summary: fmt.Sprintf("event rate %.2f/s against baseline %.2f/s (z=%.1f)", sig.Value, sig.Baseline, sig.Score),
			Details: signalDetails(volume),
			Signals: volume,
		})
	}

	if len(shift) > 0 {
		level := models.SeverityHigh
		if criticalMoved {
			level = models.SeverityCritical
		}
		top := shift[0]
		for _, sig := range shift[1:] {
			if sig.Score > top.Score {
				top = sig
			}
		}
		out = append(out, alerting.Candidate{
			Kind:    models.KindSeverityShift,
			Level:   level,
			Score:   top.Score,
			Summary: fmt.Sprintf("%s rose to %.2f against baseline %.2f (z=%.1f)", top.Metric, top.Value, top.Baseline, top.Score),
			Details: signalDetails(shift),
			Signals: shift,
		})
	} else if c, ok := o.thresholdCandidate(d.window, d.vector); ok {
		out = append(out, c)
	}

	if len(out) == 0 && d.ready && o.forest.Flag(d.pattern) {
		sig := models.Signal{
			Detector:  models.DetectorForest,
			Metric:    "pattern_score",
			Value:     d.pattern,
			Score:     d.pattern,
			Threshold: o.forest.Threshold(),
		}
		out = append(out, alerting.Candidate{
			Kind:    models.KindPatternAnomaly,
			Level:   models.SeverityMedium,
			Score:   d.pattern,
			Summary: fmt.Sprintf("unusual log pattern (isolation score %.2f)", d.pattern),
			Details: d.vector.Map(),
			Signals: []models.Signal{sig},
		})
	}
	return out
}

func (o *Orchestrator) thresholdCandidate(w models.Window, vec models.FeatureVector) (alerting.Candidate, bool) {
	t := o.opts.Thresholds
	if w.Total == 0 || w.Total < t.MinEvents {
		return alerting.Candidate{}, false
	}
	errRatio := vec[models.FeatureErrorRatio]
	critRatio := vec[models.FeatureCriticalRatio]
	errCount := w.Count(models.LevelError)
	critCount := w.Count(models.LevelCritical)

	critical := (t.CriticalRate > 0 && critRatio >= t.CriticalRate) || (t.CriticalCount > 0 && critCount >= t.CriticalCount)
	errored := (t.ErrorRate > 0 && errRatio >= t.ErrorRate) || (t.ErrorCount > 0 && errCount >= t.ErrorCount)
	if !critical && !errored {
		return alerting.Candidate{}, false
	}

	c := alerting.Candidate{
		Kind:  models.KindServiceErrorRate,
		Level: models.SeverityHigh,
		Score: errRatio,
		Details: map[string]float64{
			"error_ratio":    errRatio,
			"critical_ratio": critRatio,
			"error_count":    float64(errCount),
			"critical_count": float64(critCount),
			"total":          float64(w.Total),
		},
		Summary: fmt.Sprintf("%d errors in %d events (%.1f%%)", errCount, w.Total, 100*errRatio),
		Signals: []models.Signal{{
			Detector:  models.DetectorThreshold,
			Metric:    baseline.MetricErrorRatio,
			Value:     errRatio,
			Score:     errRatio,
			Threshold: t.ErrorRate,
		}},
	}
	if critical {
		c.Level = models.SeverityCritical
		c.Score = critRatio
		c.Summary = fmt.Sprintf("%d critical events in %d (%.1f%%)", critCount, w.Total, 100*critRatio)
		c.Signals[0] = models.Signal{
			Detector:  models.DetectorThreshold,
			Metric:    baseline.MetricCriticalRatio,
			Value:     critRatio,
			Score:     critRatio,
			Threshold: t.CriticalRate,
		}
	}
	return c, true
}

func signalDetails(signals []models.Signal) map[string]float64 {
	out := make(map[string]float64, 2*len(signals))
	for _, sig := range signals {
		out[sig.Metric] = sig.Value
		out[sig.Metric+"_z"] = sig.Score
	}
	return out
}

// anomalyInput maps an isolation score onto the health penalty scale: 0.5 and below is
// normal, 1 is a certain outlier.
func anomalyInput(score float64, ready bool) float64 {
	if !ready {
		return 0
	}
	return math.Max(0, (score-0.5)/0.5)
}
