package baseline

import (
	"math"
	"sync"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Metric names tracked per service.
const (
	MetricEventRate     = "event_rate"
	MetricErrorRatio    = "error_ratio"
	MetricCriticalRatio = "critical_ratio"
)

var trackedMetrics = []struct {
	name    string
	feature int
}{
	{MetricEventRate, models.FeatureEventRate},
	{MetricErrorRatio, models.FeatureErrorRatio},
	{MetricCriticalRatio, models.FeatureCriticalRatio},
}

// Options configures a Detector. Values are fixed at construction.
type Options struct {
	Alpha      float64
	ZThreshold float64
	Warmup     int
	Epsilon    float64
}

// Result is the outcome of observing one window for a service.
type Result struct {
	// Flags holds metrics whose |z| exceeded the threshold after warmup.
	Flags []models.Signal
	// ZScores holds the latest signed z-score of every tracked metric.
	ZScores map[string]float64
}

// Detector owns one ServiceBaseline per service.
type Detector struct {
	opts Options

	mu       sync.Mutex
	services map[string]*ServiceBaseline
}

// ServiceBaseline holds the per-metric running statistics of one service.
type ServiceBaseline struct {
	mu      sync.Mutex
	metrics map[string]*EWMA
}

// NewDetector constructs a Detector.
func NewDetector(opts Options) *Detector {
	if opts.Epsilon <= 0 {
		opts.Epsilon = 1e-6
	}
	return &Detector{opts: opts, services: make(map[string]*ServiceBaseline)}
}

func (d *Detector) baseline(service string) *ServiceBaseline {
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.services[service]
	if !ok {
		sb = &ServiceBaseline{metrics: make(map[string]*EWMA, len(trackedMetrics))}
		for _, m := range trackedMetrics {
			sb.metrics[m.name] = NewEWMA(d.opts.Alpha, d.opts.Epsilon, d.opts.Warmup)
		}
		d.services[service] = sb
	}
	return sb
}

// Observe folds a window's features into the service baseline and reports deviations.
func (d *Detector) Observe(service string, vec models.FeatureVector) Result {
	sb := d.baseline(service)
	sb.mu.Lock()
	defer sb.mu.Unlock()

	res := Result{ZScores: make(map[string]float64, len(trackedMetrics))}
	for _, m := range trackedMetrics {
		stats := sb.metrics[m.name]
		prevMean := stats.Mean()
		x := vec[m.feature]
		z, warm := stats.Update(x)
		res.ZScores[m.name] = z
		if !warm || math.Abs(z) <= d.opts.ZThreshold {
			continue
		}
		res.Flags = append(res.Flags, models.Signal{
			Detector:  models.DetectorBaseline,
			Metric:    m.name,
			Value:     x,
			Baseline:  prevMean,
			Score:     z,
			Threshold: d.opts.ZThreshold,
		})
	}
	return res
}

// Stats returns mean, variance and count for one service metric.
func (d *Detector) Stats(service, metric string) (mean, variance float64, count int, ok bool) {
	d.mu.Lock()
	sb, found := d.services[service]
	d.mu.Unlock()
	if !found {
		return 0, 0, 0, false
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	stats, found := sb.metrics[metric]
	if !found {
		return 0, 0, 0, false
	}
	return stats.Mean(), stats.Variance(), stats.Count(), true
}

// Reset drops a service's baseline; it restarts cold on the next observation.
func (d *Detector) Reset(service string) {
	d.mu.Lock()
	delete(d.services, service)
	d.mu.Unlock()
}
