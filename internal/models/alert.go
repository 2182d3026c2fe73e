package models

import "time"

// Severity captures alert impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AlertKind enumerates the conditions the engine alerts on.
type AlertKind string

const (
	KindVolumeSpike      AlertKind = "VOLUME_SPIKE"
	KindSeverityShift    AlertKind = "SEVERITY_SHIFT"
	KindPatternAnomaly   AlertKind = "PATTERN_ANOMALY"
	KindServiceErrorRate AlertKind = "SERVICE_ERROR_RATE"
)

// Detector names used in Signal.Detector.
const (
	DetectorBaseline  = "baseline"
	DetectorForest    = "forest"
	DetectorThreshold = "threshold"
)

// Signal is one detector flag for a service in a single cycle.
type Signal struct {
	Detector  string  `json:"detector"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Baseline  float64 `json:"baseline"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
}

// Alert is an emitted (non-suppressed) alert record.
type Alert struct {
	ID              string             `json:"id"`
	Kind            AlertKind          `json:"kind"`
	Service         string             `json:"service"`
	Level           Severity           `json:"severity"`
	Score           float64            `json:"score"`
	Timestamp       time.Time          `json:"timestamp"`
	SuppressedUntil time.Time          `json:"suppressed_until"`
	Occurrences     int                `json:"occurrences"`
	Suppressed      int                `json:"suppressed"`
	Summary         string             `json:"summary"`
	Details         map[string]float64 `json:"details,omitempty"`
	Signals         []Signal           `json:"signals,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Explanation     string             `json:"explanation,omitempty"`
}
