// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (pipeline or dependency issues).
	OutcomeError = "error"
	// OutcomeSkipped labels ticks skipped because the previous one overran, and
	// notifications dropped by dedup or a full queue.
	OutcomeSkipped = "skipped"
)

const namespace = "mirador_sentinel"

var (
	eventsIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_ingested_total",
		Help:      "Log events accepted into the buffer.",
	})

	eventsDiscardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_discarded_total",
		Help:      "Log events rejected at ingestion, partitioned by reason.",
	}, []string{"reason"})

	ticksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Detection cycles, partitioned by outcome.",
	}, []string{"outcome"})

	tickDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_seconds",
		Help:      "Detection cycle latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	serviceErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "service_errors_total",
		Help:      "Per-service processing failures isolated within a cycle.",
	})

	alertsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_emitted_total",
		Help:      "Alerts emitted, partitioned by kind.",
	}, []string{"kind"})

	alertsSuppressedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_suppressed_total",
		Help:      "Alert conditions suppressed by cooldown, partitioned by kind.",
	}, []string{"kind"})

	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification deliveries, partitioned by channel and outcome.",
	}, []string{"channel", "outcome"})

	explanationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "explanations_total",
		Help:      "Alert explanation requests, partitioned by outcome.",
	}, []string{"outcome"})

	modelRebuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_rebuilds_total",
		Help:      "Isolation forest rebuilds, partitioned by outcome.",
	}, []string{"outcome"})

	healthScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_score",
		Help:      "Latest health score per service (0-100).",
	}, []string{"service"})

	systemHealthScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_health_score",
		Help:      "Latest system-wide health score (0-100).",
	})
)

// Register attaches mirador-sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		eventsDiscardedTotal,
		ticksTotal,
		tickDurationSeconds,
		serviceErrorsTotal,
		alertsEmittedTotal,
		alertsSuppressedTotal,
		notificationsTotal,
		explanationsTotal,
		modelRebuildsTotal,
		healthScore,
		systemHealthScore,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func outcome(label string) string {
	switch label {
	case OutcomeError, OutcomeSkipped:
		return label
	}
	return OutcomeSuccess
}

// ObserveIngest counts one accepted event, or one discarded event when reason is set.
func ObserveIngest(reason string) {
	if reason == "" {
		eventsIngestedTotal.Inc()
		return
	}
	eventsDiscardedTotal.WithLabelValues(reason).Inc()
}

// ObserveTick records a detection cycle duration and outcome label.
func ObserveTick(duration time.Duration, label string) {
	ticksTotal.WithLabelValues(outcome(label)).Inc()
	if label == OutcomeSkipped {
		return
	}
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
}

// ObserveServiceError counts a per-service failure.
func ObserveServiceError() {
	serviceErrorsTotal.Inc()
}

// ObserveAlert counts an emitted or suppressed alert.
func ObserveAlert(kind string, suppressed bool) {
	if suppressed {
		alertsSuppressedTotal.WithLabelValues(kind).Inc()
		return
	}
	alertsEmittedTotal.WithLabelValues(kind).Inc()
}

// ObserveNotification counts a delivery attempt result for a channel.
func ObserveNotification(channel, label string) {
	notificationsTotal.WithLabelValues(channel, outcome(label)).Inc()
}

// ObserveExplanation counts an explanation request result.
func ObserveExplanation(label string) {
	explanationsTotal.WithLabelValues(outcome(label)).Inc()
}

// ObserveRebuild counts a model rebuild result.
func ObserveRebuild(label string) {
	modelRebuildsTotal.WithLabelValues(outcome(label)).Inc()
}

// SetHealth publishes the latest service and system scores.
func SetHealth(service string, score float64) {
	healthScore.WithLabelValues(service).Set(score)
}

// SetSystemHealth publishes the system score.
func SetSystemHealth(score float64) {
	systemHealthScore.Set(score)
}
