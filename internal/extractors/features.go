package extractors

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// BuildWindow aggregates time-ordered events into a Window spanning [start, end).
func BuildWindow(service string, start, end time.Time, events []models.LogEvent) models.Window {
	w := models.Window{Service: service, Start: start, End: end}
	if len(events) == 0 {
		return w
	}

	w.MessageLengths = make([]int, 0, len(events))
	if len(events) > 1 {
		w.Gaps = make([]time.Duration, 0, len(events)-1)
	}
	for i, ev := range events {
		if ev.Level.Valid() {
			w.Counts[ev.Level]++
		}
		w.Total++
		w.MessageLengths = append(w.MessageLengths, len(ev.Message))
		if i > 0 {
			gap := ev.Timestamp.Sub(events[i-1].Timestamp)
			if gap < 0 {
				gap = 0
			}
			w.Gaps = append(w.Gaps, gap)
		}
	}
	return w
}

// Extract derives the FeatureVector of a window. An empty window yields the zero vector.
func Extract(w models.Window) models.FeatureVector {
	var v models.FeatureVector
	if w.Total == 0 {
		return v
	}

	total := float64(max(w.Total, 1))
	if seconds := w.End.Sub(w.Start).Seconds(); seconds > 0 {
		v[models.FeatureEventRate] = float64(w.Total) / seconds
	}
	v[models.FeatureErrorRatio] = float64(w.Count(models.LevelError)) / total
	v[models.FeatureCriticalRatio] = float64(w.Count(models.LevelCritical)) / total
	v[models.FeatureWarnRatio] = float64(w.Count(models.LevelWarn)) / total

	if len(w.Gaps) > 0 {
		gaps := make([]float64, len(w.Gaps))
		for i, g := range w.Gaps {
			gaps[i] = g.Seconds()
		}
		v[models.FeatureMeanInterArrival] = stat.Mean(gaps, nil)
	}

	lengths := make([]float64, len(w.MessageLengths))
	for i, n := range w.MessageLengths {
		lengths[i] = float64(n)
	}
	if len(lengths) > 1 {
		mean, std := stat.MeanStdDev(lengths, nil)
		v[models.FeatureMessageLengthMean] = mean
		v[models.FeatureMessageLengthStdDev] = std
	} else if len(lengths) == 1 {
		v[models.FeatureMessageLengthMean] = lengths[0]
	}

	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
		}
	}
	return v
}
