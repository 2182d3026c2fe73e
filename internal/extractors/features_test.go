package extractors

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestExtractEmptyWindow(t *testing.T) {
	start := time.Now()
	w := BuildWindow("auth", start, start.Add(time.Minute), nil)
	v := Extract(w)
	if v != (models.FeatureVector{}) {
		t.Fatalf("expected zero vector, got %v", v)
	}
	for i, x := range v {
		if math.IsNaN(x) {
			t.Fatalf("feature %s is NaN", models.FeatureNames[i])
		}
	}
}

func TestExtractRatiosAndRates(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := make([]models.LogEvent, 0, 10)
	for i := 0; i < 10; i++ {
		level := models.LevelInfo
		switch {
		case i < 3:
			level = models.LevelError
		case i == 3:
			level = models.LevelCritical
		case i == 4:
			level = models.LevelWarn
		}
		events = append(events, models.LogEvent{
			Service:   "auth",
			Level:     level,
			Message:   strings.Repeat("x", 10+i),
			Timestamp: start.Add(time.Duration(i) * 2 * time.Second),
		})
	}

	w := BuildWindow("auth", start, start.Add(20*time.Second), events)
	if w.Total != 10 || w.Count(models.LevelError) != 3 || len(w.Gaps) != 9 {
		t.Fatalf("unexpected window %+v", w)
	}

	v := Extract(w)
	if got := v[models.FeatureEventRate]; math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected rate 0.5/s, got %g", got)
	}
	if got := v[models.FeatureErrorRatio]; math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("expected error ratio 0.3, got %g", got)
	}
	if got := v[models.FeatureCriticalRatio]; math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("expected critical ratio 0.1, got %g", got)
	}
	if got := v[models.FeatureMeanInterArrival]; math.Abs(got-2) > 1e-9 {
		t.Fatalf("expected mean gap 2s, got %g", got)
	}
	if got := v[models.FeatureMessageLengthMean]; math.Abs(got-14.5) > 1e-9 {
		t.Fatalf("expected mean length 14.5, got %g", got)
	}
	if v[models.FeatureMessageLengthStdDev] <= 0 {
		t.Fatalf("expected positive stddev")
	}
}

func TestExtractSingleEvent(t *testing.T) {
	start := time.Now()
	events := []models.LogEvent{{Service: "db", Level: models.LevelInfo, Message: "hello", Timestamp: start}}
	v := Extract(BuildWindow("db", start, start.Add(time.Second), events))
	if v[models.FeatureMessageLengthStdDev] != 0 || v[models.FeatureMessageLengthMean] != 5 {
		t.Fatalf("unexpected length stats %v", v)
	}
	if v[models.FeatureMeanInterArrival] != 0 {
		t.Fatalf("expected zero inter-arrival with one event")
	}
}

func TestSummarizeAndRecentMessages(t *testing.T) {
	start := time.Now()
	events := []models.LogEvent{
		{Service: "db", Level: models.LevelInfo, Message: "a", Timestamp: start},
		{Service: "db", Level: models.LevelError, Message: "b", Timestamp: start.Add(time.Second)},
	}
	w := BuildWindow("db", start, start.Add(time.Minute), events)
	s := Summarize(w, Extract(w))
	if s.Counts["ERROR"] != 1 || s.Total != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
	msgs := RecentMessages(events, 1)
	if len(msgs) != 1 || msgs[0] != "ERROR b" {
		t.Fatalf("unexpected recent messages %v", msgs)
	}
}
