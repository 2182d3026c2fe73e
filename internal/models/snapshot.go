package models

import "time"

// HealthScore is a 0-100 wellness value at a point in time.
type HealthScore struct {
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// ServiceSnapshot is the latest per-service view exposed to dashboards.
type ServiceSnapshot struct {
	Service       string             `json:"service"`
	Health        HealthScore        `json:"health"`
	Trend         []HealthScore      `json:"trend,omitempty"`
	Counts        map[string]int     `json:"counts"`
	Total         int                `json:"total"`
	HorizonEvents int                `json:"horizon_events"`
	Features      map[string]float64 `json:"features"`
	ZScores       map[string]float64 `json:"z_scores,omitempty"`
	PatternScore  float64            `json:"pattern_score"`
	ModelReady    bool               `json:"model_ready"`
	Signals       []Signal           `json:"signals,omitempty"`
	TopMessages   []MessageSignature `json:"top_messages,omitempty"`
	ActiveAlerts  []Alert            `json:"active_alerts,omitempty"`
	LastSeen      time.Time          `json:"last_seen"`
	Stale         bool               `json:"stale"`
	LastError     string             `json:"last_error,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// SystemSnapshot is the system-wide view.
type SystemSnapshot struct {
	Health        HealthScore    `json:"health"`
	Counts        map[string]int `json:"counts"`
	Total         int            `json:"total"`
	Services      int            `json:"services"`
	StaleServices []string       `json:"stale_services,omitempty"`
	ActiveAlerts  int            `json:"active_alerts"`
	LastTick      time.Time      `json:"last_tick"`
	TickDuration  time.Duration  `json:"tick_duration"`
	SkippedTicks  uint64         `json:"skipped_ticks"`
}

// Snapshot is the full read-only view returned by the pull API.
type Snapshot struct {
	System   SystemSnapshot    `json:"system"`
	Services []ServiceSnapshot `json:"services"`
}

// MessageSignature is a normalised message template and how often it occurred in a window.
type MessageSignature struct {
	Template string    `json:"template"`
	Level    string    `json:"level"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}
