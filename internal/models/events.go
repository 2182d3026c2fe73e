package models

import (
	"fmt"
	"strings"
	"time"
)

// LogLevel is the ordered severity of a log event.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical

	// NumLogLevels sizes per-level count arrays.
	NumLogLevels = int(LevelCritical) + 1
)

var logLevelNames = [NumLogLevels]string{"DEBUG", "INFO", "WARN", "ERROR", "CRITICAL"}

func (l LogLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
	return logLevelNames[l]
}

// Valid reports whether l is one of the known levels.
func (l LogLevel) Valid() bool {
	return l >= LevelDebug && l <= LevelCritical
}

// ParseLogLevel maps a textual level onto LogLevel. WARNING is accepted as an alias of WARN.
func ParseLogLevel(value string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("unknown log level %q", value)
}

// MarshalText renders the level name.
func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a level name.
func (l *LogLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseLogLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LogEvent is a single ingested log record. It is never mutated after ingestion.
type LogEvent struct {
	Service   string
	Level     LogLevel
	Message   string
	Timestamp time.Time
	Metadata  map[string]string
}

// Window aggregates one service's events over [Start, End).
type Window struct {
	Service        string
	Start          time.Time
	End            time.Time
	Counts         [NumLogLevels]int
	Total          int
	Gaps           []time.Duration
	MessageLengths []int
}

// Count returns the number of events at the given level.
func (w Window) Count(level LogLevel) int {
	if !level.Valid() {
		return 0
	}
	return w.Counts[level]
}

// Empty reports whether the window holds no events.
func (w Window) Empty() bool {
	return w.Total == 0
}

// Named indices into FeatureVector.
const (
	FeatureEventRate = iota
	FeatureErrorRatio
	FeatureCriticalRatio
	FeatureWarnRatio
	FeatureMeanInterArrival
	FeatureMessageLengthMean
	FeatureMessageLengthStdDev

	NumFeatures
)

// FeatureNames labels each FeatureVector dimension.
var FeatureNames = [NumFeatures]string{
	"event_rate",
	"error_ratio",
	"critical_ratio",
	"warn_ratio",
	"mean_inter_arrival",
	"message_length_mean",
	"message_length_stddev",
}

// FeatureVector is the fixed-shape numeric summary of one Window.
type FeatureVector [NumFeatures]float64

// Map returns the vector keyed by feature name, for display.
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, NumFeatures)
	for i, name := range FeatureNames {
		out[name] = v[i]
	}
	return out
}
