package forest

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Options configures a Detector.
type Options struct {
	Trees          int
	Subsample      int
	SampleCapacity int
	MinSamples     int
	Threshold      float64
	// Seed makes builds reproducible. Zero seeds from the clock.
	Seed uint64
}

// Detector owns a rolling sample and the current model for each service. Scoring reads the
// model through an atomic pointer, so a retrain never exposes a partially built ensemble.
type Detector struct {
	opts   Options
	seed   uint64
	builds atomic.Uint64

	mu       sync.Mutex
	services map[string]*serviceModel
}

type serviceModel struct {
	mu      sync.Mutex
	samples []models.FeatureVector
	next    int
	full    bool

	model atomic.Pointer[Model]
	// gen numbers sample copies; installed is the gen of the model being served.
	gen       uint64
	installed uint64
}

// NewDetector constructs a Detector.
func NewDetector(opts Options) *Detector {
	if opts.Trees < 1 {
		opts.Trees = 100
	}
	if opts.Subsample < 2 {
		opts.Subsample = 256
	}
	if opts.SampleCapacity < opts.Subsample {
		opts.SampleCapacity = opts.Subsample
	}
	if opts.MinSamples < 2 {
		opts.MinSamples = 2
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Detector{opts: opts, seed: seed, services: make(map[string]*serviceModel)}
}

// Threshold returns the configured anomaly threshold.
func (d *Detector) Threshold() float64 {
	return d.opts.Threshold
}

// MinSamples returns the smallest sample a model can be built from.
func (d *Detector) MinSamples() int {
	return d.opts.MinSamples
}

func (d *Detector) service(name string) *serviceModel {
	d.mu.Lock()
	defer d.mu.Unlock()
	sm, ok := d.services[name]
	if !ok {
		sm = &serviceModel{samples: make([]models.FeatureVector, 0, d.opts.SampleCapacity)}
		d.services[name] = sm
	}
	return sm
}

// Observe appends vec to the service's rolling sample, overwriting the oldest when full.
func (d *Detector) Observe(service string, vec models.FeatureVector) {
	sm := d.service(service)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.full && len(sm.samples) < d.opts.SampleCapacity {
		sm.samples = append(sm.samples, vec)
		if len(sm.samples) == d.opts.SampleCapacity {
			sm.full = true
		}
		return
	}
	sm.samples[sm.next] = vec
	sm.next = (sm.next + 1) % d.opts.SampleCapacity
}

// Score returns the anomaly score of vec under the service's current model.
// ok is false until the first model for the service has been built.
func (d *Detector) Score(service string, vec models.FeatureVector) (score float64, ok bool) {
	d.mu.Lock()
	sm, found := d.services[service]
	d.mu.Unlock()
	if !found {
		return 0, false
	}
	m := sm.model.Load()
	if m == nil {
		return 0, false
	}
	return m.Score(vec), true
}

// Flag reports whether score is above the anomaly threshold.
func (d *Detector) Flag(score float64) bool {
	return score > d.opts.Threshold
}

// Model returns the service's current model, or nil.
func (d *Detector) Model(service string) *Model {
	d.mu.Lock()
	sm, found := d.services[service]
	d.mu.Unlock()
	if !found {
		return nil
	}
	return sm.model.Load()
}

// Samples returns how many vectors are held for a service.
func (d *Detector) Samples(service string) int {
	d.mu.Lock()
	sm, found := d.services[service]
	d.mu.Unlock()
	if !found {
		return 0
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.samples)
}

// Retrain builds a new model from a copy of the service's sample and swaps it in.
// On a ModelBuildError the previous model keeps serving. When builds overlap, a model
// built from an older sample copy never replaces one built from a newer copy.
func (d *Detector) Retrain(service string) (*Model, error) {
	sm := d.service(service)
	sm.mu.Lock()
	sample := append([]models.FeatureVector(nil), sm.samples...)
	sm.gen++
	gen := sm.gen
	sm.mu.Unlock()

	rng := rand.New(rand.NewPCG(d.seed, d.builds.Add(1)))
	m, err := Build(sample, BuildOptions{
		Trees:      d.opts.Trees,
		Subsample:  d.opts.Subsample,
		MinSamples: d.opts.MinSamples,
	}, rng)
	if err != nil {
		return nil, err
	}
	return sm.install(m, gen), nil
}

// install serves m unless a model from a newer sample copy is already in place, and
// returns the model being served.
func (sm *serviceModel) install(m *Model, gen uint64) *Model {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if gen <= sm.installed {
		return sm.model.Load()
	}
	sm.installed = gen
	sm.model.Store(m)
	return m
}

// RetrainAll retrains every known service in name order. The result has an entry per
// service, nil on success. Services left when ctx is cancelled get ctx.Err().
func (d *Detector) RetrainAll(ctx context.Context) map[string]error {
	d.mu.Lock()
	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	d.mu.Unlock()
	sort.Strings(names)

	errs := make(map[string]error)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs[name] = err
			continue
		}
		_, err := d.Retrain(name)
		errs[name] = err
	}
	return errs
}
