package config

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Validate rejects settings the engine cannot run with. Every problem is reported in one error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	d := c.Detection
	if d.Window <= 0 {
		add("detection.window must be positive")
	}
	if d.Retention < d.Window {
		add("detection.retention (%s) must be >= detection.window (%s)", d.Retention, d.Window)
	}
	if d.TickPeriod <= 0 {
		add("detection.tickPeriod must be positive")
	}
	if d.TickDeadline < 0 {
		add("detection.tickDeadline must not be negative")
	}
	if d.Parallelism < 1 {
		add("detection.parallelism must be >= 1")
	}

	b := c.Baseline
	if b.Alpha <= 0 || b.Alpha >= 1 {
		add("baseline.alpha must be in (0,1), got %g", b.Alpha)
	}
	if b.ZThreshold <= 0 {
		add("baseline.zThreshold must be positive")
	}
	if b.WarmupCount < 0 {
		add("baseline.warmupCount must not be negative")
	}
	if b.Epsilon <= 0 {
		add("baseline.epsilon must be positive")
	}

	f := c.Forest
	if f.Trees < 1 {
		add("forest.trees must be >= 1")
	}
	if f.SubsampleSize < 2 {
		add("forest.subsampleSize must be >= 2")
	}
	if f.SampleCapacity < f.SubsampleSize {
		add("forest.sampleCapacity (%d) must be >= forest.subsampleSize (%d)", f.SampleCapacity, f.SubsampleSize)
	}
	if f.MinSamples < 2 {
		add("forest.minSamples must be >= 2")
	}
	if f.RetrainPeriod <= 0 {
		add("forest.retrainPeriod must be positive")
	}
	if f.AnomalyThreshold <= 0 || f.AnomalyThreshold > 1 {
		add("forest.anomalyThreshold must be in (0,1], got %g", f.AnomalyThreshold)
	}

	t := c.Thresholds
	if t.ErrorRate <= 0 || t.ErrorRate > 1 {
		add("thresholds.errorRate must be in (0,1]")
	}
	if t.CriticalRate <= 0 || t.CriticalRate > 1 {
		add("thresholds.criticalRate must be in (0,1]")
	}
	if t.ErrorCount < 0 || t.CriticalCount < 0 || t.MinEvents < 0 {
		add("thresholds counts must not be negative")
	}

	if c.Alerts.Cooldown < 0 {
		add("alerts.cooldown must not be negative")
	}
	if c.Alerts.DecayCount < 1 {
		add("alerts.decayCount must be >= 1")
	}

	h := c.Health
	if h.ErrorWeight < 0 || h.CriticalWeight < 0 || h.AnomalyWeight < 0 {
		add("health weights must not be negative")
	}
	if h.StaleAfter <= 0 {
		add("health.staleAfter must be positive")
	}

	if c.Notify.MaxRetries < 0 {
		add("notify.maxRetries must not be negative")
	}
	if c.Notify.RatePerSecond < 0 {
		add("notify.ratePerSecond must not be negative")
	}
	if c.Explain.Enabled && c.Explain.Endpoint == "" {
		add("explain.endpoint is required when explain.enabled is set")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		add("cache.addr is required when cache.enabled is set")
	}

	if len(problems) == 0 {
		return nil
	}
	return utils.ConfigurationError("config.validate", strings.Join(problems, "; "))
}
