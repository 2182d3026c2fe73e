package extractors

import (
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// WindowSummary is the compact description of a window handed to collaborators.
type WindowSummary struct {
	Service  string             `json:"service"`
	Start    time.Time          `json:"start"`
	End      time.Time          `json:"end"`
	Total    int                `json:"total"`
	Counts   map[string]int     `json:"counts"`
	Features map[string]float64 `json:"features"`
}

// Summarize describes a window and its features.
func Summarize(w models.Window, v models.FeatureVector) WindowSummary {
	return WindowSummary{
		Service:  w.Service,
		Start:    w.Start,
		End:      w.End,
		Total:    w.Total,
		Counts:   LevelCounts(w),
		Features: v.Map(),
	}
}

// LevelCounts keys the window's per-level counts by level name.
func LevelCounts(w models.Window) map[string]int {
	out := make(map[string]int, models.NumLogLevels)
	for lvl := models.LevelDebug; lvl <= models.LevelCritical; lvl++ {
		out[lvl.String()] = w.Counts[lvl]
	}
	return out
}

// RecentMessages returns up to limit of the newest messages, newest last.
func RecentMessages(events []models.LogEvent, limit int) []string {
	if limit <= 0 || len(events) == 0 {
		return nil
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Level.String()+" "+ev.Message)
	}
	return out
}
