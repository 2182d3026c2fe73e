// Package health turns per-service error rates and anomaly scores into 0-100 health scores.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Weights scale each penalty term.
type Weights struct {
	Error    float64
	Critical float64
	Anomaly  float64
}

// Input is one service's health inputs for a cycle. Ratios and Anomaly lie in [0,1].
type Input struct {
	ErrorRatio    float64
	CriticalRatio float64
	Anomaly       float64
}

// Score computes 100 - clamp(we*err + wc*crit*2 + wa*anomaly, 0, 100).
func Score(w Weights, in Input) float64 {
	penalty := w.Error*in.ErrorRatio + w.Critical*in.CriticalRatio*2 + w.Anomaly*in.Anomaly
	return 100 - clamp(penalty, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v != v { // NaN
		return hi
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Entry is a service's contribution to the system-wide score.
type Entry struct {
	Service string
	Score   float64
	// Weight is the number of events the service holds in the current horizon.
	Weight int
	Stale  bool
}

// System is the system-wide health result.
type System struct {
	Score    float64
	Included int
	Stale    []string
}

// Aggregator records per-service scores with a short rolling history.
type Aggregator struct {
	weights     Weights
	historySize int

	mu      sync.RWMutex
	latest  map[string]models.HealthScore
	history map[string][]models.HealthScore
}

// NewAggregator constructs an Aggregator.
func NewAggregator(w Weights, historySize int) *Aggregator {
	if historySize <= 0 {
		historySize = 60
	}
	return &Aggregator{
		weights:     w,
		historySize: historySize,
		latest:      make(map[string]models.HealthScore),
		history:     make(map[string][]models.HealthScore),
	}
}

// Record scores a service and appends the result to its history.
func (a *Aggregator) Record(service string, in Input, now time.Time) models.HealthScore {
	hs := models.HealthScore{Score: Score(a.weights, in), Timestamp: now}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest[service] = hs
	hist := append(a.history[service], hs)
	if len(hist) > a.historySize {
		hist = append(hist[:0], hist[len(hist)-a.historySize:]...)
	}
	a.history[service] = hist
	return hs
}

// Latest returns the most recent score for a service.
func (a *Aggregator) Latest(service string) (models.HealthScore, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	hs, ok := a.latest[service]
	return hs, ok
}

// History returns a copy of the service's rolling history, oldest first.
func (a *Aggregator) History(service string) []models.HealthScore {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.HealthScore(nil), a.history[service]...)
}

// SystemScore averages entries weighted by event count. Services without events in the
// horizon, or stale ones, are left out; stale services are listed separately. With nothing
// to include the system is reported healthy.
func SystemScore(entries []Entry) System {
	var (
		sum    float64
		weight int
		out    System
	)
	for _, e := range entries {
		if e.Stale {
			out.Stale = append(out.Stale, e.Service)
			continue
		}
		if e.Weight <= 0 {
			continue
		}
		sum += e.Score * float64(e.Weight)
		weight += e.Weight
		out.Included++
	}
	sort.Strings(out.Stale)
	if weight == 0 {
		out.Score = 100
		return out
	}
	out.Score = clamp(sum/float64(weight), 0, 100)
	return out
}
