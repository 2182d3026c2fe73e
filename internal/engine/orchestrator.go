// Package engine drives the periodic detection cycle over the event buffer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-sentinel/internal/alerting"
	"github.com/miradorstack/mirador-sentinel/internal/baseline"
	"github.com/miradorstack/mirador-sentinel/internal/explain"
	"github.com/miradorstack/mirador-sentinel/internal/extractors"
	"github.com/miradorstack/mirador-sentinel/internal/forest"
	"github.com/miradorstack/mirador-sentinel/internal/health"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/patterns"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// ErrTickSkipped is returned by Tick when a previous tick is still running.
var ErrTickSkipped = errors.New("tick skipped: previous tick still running")

// Buffer is the read side of the event buffer used by the orchestrator.
type Buffer interface {
	Services() []string
	DrainWindow(service string, size time.Duration) []models.LogEvent
	LastSeen(service string) (time.Time, bool)
	Count(service string) int
	Prune() int
}

// AlertNotifier receives emitted alerts and periodic reports. Calls must not block.
type AlertNotifier interface {
	NotifyAlert(alert models.Alert) bool
	NotifyReport(text string) bool
}

// ExplainQueue receives explanation requests. Calls must not block.
type ExplainQueue interface {
	Submit(req explain.Request) bool
}

// Options configures an Orchestrator.
type Options struct {
	Window          time.Duration
	TickPeriod      time.Duration
	TickDeadline    time.Duration
	RetrainPeriod   time.Duration
	SummaryInterval time.Duration
	StaleAfter      time.Duration
	Parallelism     int
	ContextEvents   int
	// TopMessages bounds the message signatures kept per service snapshot.
	TopMessages int
	Thresholds  Thresholds
	// Now overrides the clock used for windows, mainly for tests.
	Now func() time.Time
}

// Deps are the collaborators of an Orchestrator. Notifier and Explainer are optional.
type Deps struct {
	Buffer    Buffer
	Baseline  *baseline.Detector
	Forest    *forest.Detector
	Health    *health.Aggregator
	Alerts    *alerting.Manager
	Notifier  AlertNotifier
	Explainer ExplainQueue
	Logger    *slog.Logger
}

// Orchestrator runs features, detectors, health and alerting for every service each tick.
type Orchestrator struct {
	opts     Options
	logger   *slog.Logger
	buffer   Buffer
	baseline *baseline.Detector
	forest   *forest.Detector
	health   *health.Aggregator
	alerts   *alerting.Manager
	notifier AlertNotifier
	explain  ExplainQueue
	latency  *utils.LatencyTracker

	running atomic.Bool
	skipped atomic.Uint64
	emitted atomic.Int64

	mu       sync.RWMutex
	services map[string]models.ServiceSnapshot
	system   models.SystemSnapshot
}

type serviceResult struct {
	snapshot models.ServiceSnapshot
	counts   [models.NumLogLevels]int
	err      error
	skipped  bool
}

// NewOrchestrator validates deps and constructs an Orchestrator.
func NewOrchestrator(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Buffer == nil || deps.Baseline == nil || deps.Forest == nil || deps.Health == nil || deps.Alerts == nil {
		return nil, utils.ConfigurationError("engine.new", "buffer, detectors, health and alerts are required")
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = 5 * time.Second
	}
	if opts.RetrainPeriod <= 0 {
		opts.RetrainPeriod = 5 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.TopMessages <= 0 {
		opts.TopMessages = 5
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		opts:     opts,
		logger:   logger,
		buffer:   deps.Buffer,
		baseline: deps.Baseline,
		forest:   deps.Forest,
		health:   deps.Health,
		alerts:   deps.Alerts,
		notifier: deps.Notifier,
		explain:  deps.Explainer,
		latency:  utils.NewLatencyTracker(256),
		services: make(map[string]models.ServiceSnapshot),
	}, nil
}

// Run ticks until ctx is cancelled, alongside model retraining and the optional summary report.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.tickLoop(ctx) })
	g.Go(func() error { return o.retrainLoop(ctx) })
	if o.opts.SummaryInterval > 0 && o.notifier != nil {
		g.Go(func() error { return o.summaryLoop(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (o *Orchestrator) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		start := time.Now()
		if err := o.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Warn("detection tick failed", slog.Any("error", err))
		}
		if pruned := o.buffer.Prune(); pruned > 0 {
			o.logger.Debug("pruned expired events", slog.Int("count", pruned))
		}
		if time.Since(start) > o.opts.TickPeriod {
			// The ticker holds at most one pending tick; drop it instead of running late.
			select {
			case <-ticker.C:
				o.skip()
			default:
			}
		}
	}
}

func (o *Orchestrator) skip() {
	o.skipped.Add(1)
	metrics.ObserveTick(0, metrics.OutcomeSkipped)
	o.logger.Warn("detection tick overran, skipping next tick", slog.Uint64("skipped_total", o.skipped.Load()))
}

func (o *Orchestrator) retrainLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.RetrainPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.Retrain(ctx)
		}
	}
}

// Retrain rebuilds every service's pattern model off the scoring path.
func (o *Orchestrator) Retrain(ctx context.Context) {
	for service, err := range o.forest.RetrainAll(ctx) {
		switch {
		case err == nil:
			metrics.ObserveRebuild(metrics.OutcomeSuccess)
		case errors.Is(err, utils.ErrModelBuild):
			metrics.ObserveRebuild(metrics.OutcomeSkipped)
			o.logger.Debug("model rebuild skipped", slog.String("service", service), slog.Any("error", err))
		default:
			metrics.ObserveRebuild(metrics.OutcomeError)
			o.logger.Warn("model rebuild failed", slog.String("service", service), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) summaryLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.SummaryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.SendSummary()
		}
	}
}

// SendSummary queues a summary report covering alerts emitted since the previous one.
func (o *Orchestrator) SendSummary() bool {
	if o.notifier == nil {
		return false
	}
	report := alerting.Report{
		Period:   o.opts.SummaryInterval,
		Snapshot: o.Snapshot(),
		Emitted:  int(o.emitted.Swap(0)),
	}
	return o.notifier.NotifyReport(alerting.FormatReport(report))
}

// Tick runs one detection cycle. Services are processed in parallel; a failing service is
// logged and skipped without affecting the others. Services not started before the tick
// deadline keep their previous snapshot.
func (o *Orchestrator) Tick(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		o.skip()
		return ErrTickSkipped
	}
	defer o.running.Store(false)

	started := time.Now()
	now := o.opts.Now()
	if o.opts.TickDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.TickDeadline)
		defer cancel()
	}

	services := o.buffer.Services()
	results := make([]serviceResult, len(services))
	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for i, service := range services {
		g.Go(func() error {
			results[i] = o.processService(ctx, service, now)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(started)
	o.latency.Observe(elapsed)
	o.publish(services, results, now, elapsed)

	failed := 0
	for i, res := range results {
		if res.err == nil {
			continue
		}
		failed++
		if !res.skipped {
			metrics.ObserveServiceError()
			o.logger.Error("service detection failed", slog.String("service", services[i]), slog.Any("error", res.err))
		}
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		metrics.ObserveTick(elapsed, metrics.OutcomeError)
		return err
	}
	outcome := metrics.OutcomeSuccess
	if failed > 0 {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveTick(elapsed, outcome)
	return nil
}

func (o *Orchestrator) processService(ctx context.Context, service string, now time.Time) (res serviceResult) {
	defer func() {
		if r := recover(); r != nil {
			res = serviceResult{err: fmt.Errorf("panic: %v", r)}
			o.logger.Debug("service panic stack", slog.String("service", service), slog.String("stack", string(debug.Stack())))
		}
	}()
	if err := ctx.Err(); err != nil {
		return serviceResult{err: err, skipped: true}
	}

	events := o.buffer.DrainWindow(service, o.opts.Window)
	window := extractors.BuildWindow(service, now.Add(-o.opts.Window), now, events)
	vec := extractors.Extract(window)

	snap := models.ServiceSnapshot{
		Service:       service,
		Counts:        extractors.LevelCounts(window),
		Total:         window.Total,
		HorizonEvents: o.buffer.Count(service),
		Features:      vec.Map(),
		UpdatedAt:     now,
	}
	if seen, ok := o.buffer.LastSeen(service); ok {
		snap.LastSeen = seen
		snap.Stale = now.Sub(seen) > o.opts.StaleAfter
	}

	if window.Empty() {
		// Nothing to learn from; alert state still ages toward QUIET.
		o.evaluate(service, nil, now, window, vec, events)
		snap.Health, _ = o.health.Latest(service)
		snap.ModelReady = o.forest.Model(service) != nil
		return serviceResult{snapshot: snap}
	}

	base := o.baseline.Observe(service, vec)
	pattern, ready := o.score(service, vec)
	o.forest.Observe(service, vec)

	signals := append([]models.Signal(nil), base.Flags...)
	if ready && o.forest.Flag(pattern) {
		signals = append(signals, models.Signal{
			Detector:  models.DetectorForest,
			Metric:    "pattern_score",
			Value:     pattern,
			Score:     pattern,
			Threshold: o.forest.Threshold(),
		})
	}

	candidates := o.candidates(detection{window: window, vector: vec, baseline: base, pattern: pattern, ready: ready})
	snap.Health = o.health.Record(service, health.Input{
		ErrorRatio:    vec[models.FeatureErrorRatio],
		CriticalRatio: vec[models.FeatureCriticalRatio],
		Anomaly:       anomalyInput(pattern, ready),
	}, now)
	metrics.SetHealth(service, snap.Health.Score)
	o.evaluate(service, candidates, now, window, vec, events)

	snap.ZScores = base.ZScores
	snap.PatternScore = pattern
	snap.ModelReady = ready
	snap.Signals = signals
	snap.TopMessages = patterns.Mine(events, models.LevelWarn, o.opts.TopMessages)
	return serviceResult{snapshot: snap, counts: window.Counts}
}

// score returns the pattern score, building the first model as soon as enough samples exist.
func (o *Orchestrator) score(service string, vec models.FeatureVector) (float64, bool) {
	if s, ok := o.forest.Score(service, vec); ok {
		return s, true
	}
	if o.forest.Samples(service) < o.forest.MinSamples() {
		return 0, false
	}
	if _, err := o.forest.Retrain(service); err != nil {
		metrics.ObserveRebuild(metrics.OutcomeSkipped)
		return 0, false
	}
	metrics.ObserveRebuild(metrics.OutcomeSuccess)
	o.logger.Info("pattern model ready", slog.String("service", service))
	return o.forest.Score(service, vec)
}

func (o *Orchestrator) evaluate(service string, candidates []alerting.Candidate, now time.Time, w models.Window, vec models.FeatureVector, events []models.LogEvent) {
	res := o.alerts.Evaluate(service, candidates, now)
	for _, kind := range res.Suppressed {
		metrics.ObserveAlert(string(kind), true)
	}
	for _, alert := range res.Emitted {
		metrics.ObserveAlert(string(alert.Kind), false)
		o.emitted.Add(1)
		o.logger.Info("alert emitted",
			slog.String("id", alert.ID),
			slog.String("service", alert.Service),
			slog.String("kind", string(alert.Kind)),
			slog.String("severity", string(alert.Level)),
			slog.Int("occurrences", alert.Occurrences),
		)
		if o.notifier != nil && !o.notifier.NotifyAlert(alert) {
			o.logger.Debug("alert notification not queued", slog.String("id", alert.ID))
		}
		if o.explain != nil {
			o.explain.Submit(explain.Request{
				AlertID:        alert.ID,
				Kind:           string(alert.Kind),
				Service:        service,
				Severity:       string(alert.Level),
				Score:          alert.Score,
				Summary:        alert.Summary,
				Window:         extractors.Summarize(w, vec),
				RecentMessages: extractors.RecentMessages(events, o.opts.ContextEvents),
				Signatures:     patterns.Mine(events, models.LevelWarn, o.opts.TopMessages),
			})
		}
	}
}

func (o *Orchestrator) publish(services []string, results []serviceResult, now time.Time, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	system := models.SystemSnapshot{
		Counts:       make(map[string]int, models.NumLogLevels),
		Services:     len(services),
		LastTick:     now,
		TickDuration: elapsed,
		SkippedTicks: o.skipped.Load(),
	}
	var counts [models.NumLogLevels]int
	entries := make([]health.Entry, 0, len(services))
	for i, service := range services {
		res := results[i]
		snap := res.snapshot
		if res.err != nil {
			snap = o.services[service]
			snap.Service = service
			if !res.skipped {
				snap.LastError = res.err.Error()
			}
		} else {
			for lvl, n := range res.counts {
				counts[lvl] += n
			}
			system.Total += snap.Total
		}
		o.services[service] = snap
		entries = append(entries, health.Entry{
			Service: service,
			Score:   snap.Health.Score,
			Weight:  snap.HorizonEvents,
			Stale:   snap.Stale,
		})
	}
	for lvl := models.LevelDebug; lvl <= models.LevelCritical; lvl++ {
		system.Counts[lvl.String()] = counts[lvl]
	}

	sys := health.SystemScore(entries)
	system.Health = models.HealthScore{Score: sys.Score, Timestamp: now}
	system.StaleServices = sys.Stale
	system.ActiveAlerts = len(o.alerts.ActiveAll())
	o.system = system
	metrics.SetSystemHealth(sys.Score)
}

// Snapshot returns a copy of the latest system and per-service views, services sorted by name.
func (o *Orchestrator) Snapshot() models.Snapshot {
	o.mu.RLock()
	out := models.Snapshot{System: o.system, Services: make([]models.ServiceSnapshot, 0, len(o.services))}
	out.System.Counts = copyCounts(o.system.Counts)
	out.System.StaleServices = append([]string(nil), o.system.StaleServices...)
	for _, snap := range o.services {
		out.Services = append(out.Services, snap)
	}
	o.mu.RUnlock()

	sort.Slice(out.Services, func(i, j int) bool { return out.Services[i].Service < out.Services[j].Service })
	for i := range out.Services {
		out.Services[i] = o.decorate(out.Services[i])
	}
	return out
}

// Service returns the latest view of one service with its health trend and active alerts.
func (o *Orchestrator) Service(name string) (models.ServiceSnapshot, bool) {
	o.mu.RLock()
	snap, ok := o.services[name]
	o.mu.RUnlock()
	if !ok {
		return models.ServiceSnapshot{}, false
	}
	snap = o.decorate(snap)
	snap.Trend = o.health.History(name)
	return snap, true
}

// Alerts returns up to limit of the most recently emitted alerts.
func (o *Orchestrator) Alerts(limit int) []models.Alert {
	return o.alerts.Recent(limit)
}

// TickLatency returns the p-th percentile (0-100) of recent tick durations.
func (o *Orchestrator) TickLatency(p float64) time.Duration {
	return o.latency.Percentile(p)
}

func (o *Orchestrator) decorate(snap models.ServiceSnapshot) models.ServiceSnapshot {
	snap.Counts = copyCounts(snap.Counts)
	snap.Features = copyFloats(snap.Features)
	snap.ZScores = copyFloats(snap.ZScores)
	snap.Signals = append([]models.Signal(nil), snap.Signals...)
	snap.TopMessages = append([]models.MessageSignature(nil), snap.TopMessages...)
	snap.ActiveAlerts = o.alerts.Active(snap.Service)
	return snap
}

func copyCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFloats(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
