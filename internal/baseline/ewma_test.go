package baseline

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestEWMAConstantThenOutlierFlags(t *testing.T) {
	e := NewEWMA(0.1, 1e-6, 5)
	for i := 0; i < 10; i++ {
		z, warm := e.Update(100)
		if warm && math.Abs(z) > 3 {
			t.Fatalf("constant series flagged at %d (z=%g)", i, z)
		}
	}
	z, warm := e.Update(140)
	if !warm {
		t.Fatalf("expected warm tracker after 10 observations")
	}
	if z <= 3 {
		t.Fatalf("expected outlier to exceed threshold, z=%g", z)
	}
}

func TestEWMAWarmupNeverFlags(t *testing.T) {
	e := NewEWMA(0.1, 1e-6, 3)
	values := []float64{1, 50, -20}
	for i, x := range values {
		if _, warm := e.Update(x); warm {
			t.Fatalf("observation %d reported warm during warmup", i+1)
		}
	}
	if _, warm := e.Update(1); !warm {
		t.Fatalf("expected fourth observation to be past warmup")
	}
}

func TestEWMAVarianceNeverNegative(t *testing.T) {
	e := NewEWMA(0.3, 1e-6, 0)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		e.Update(rng.NormFloat64() * 1e6)
		if e.Variance() < 0 {
			t.Fatalf("negative variance at %d", i)
		}
	}
	if z, _ := e.Update(math.NaN()); z != 0 {
		t.Fatalf("expected NaN input to be ignored")
	}
}

func TestNoiseFalsePositiveBound(t *testing.T) {
	const (
		trials       = 20
		observations = 500
		threshold    = 3.0
	)
	rng := rand.New(rand.NewPCG(42, 4242))
	flags, total := 0, 0
	for trial := 0; trial < trials; trial++ {
		e := NewEWMA(0.05, 1e-6, 30)
		for i := 0; i < observations; i++ {
			z, warm := e.Update(10 + rng.NormFloat64())
			if !warm {
				continue
			}
			total++
			if math.Abs(z) > threshold {
				flags++
			}
		}
	}
	rate := float64(flags) / float64(total)
	if rate > 0.02 {
		t.Fatalf("false positive rate %.4f exceeds 2%% (%d/%d)", rate, flags, total)
	}
}

func TestDetectorFlagsSeverityShift(t *testing.T) {
	d := NewDetector(Options{Alpha: 0.1, ZThreshold: 3, Warmup: 5})
	steady := models.FeatureVector{}
	steady[models.FeatureEventRate] = 100
	for i := 0; i < 10; i++ {
		if res := d.Observe("auth", steady); len(res.Flags) != 0 {
			t.Fatalf("steady window %d flagged: %+v", i, res.Flags)
		}
	}

	spike := steady
	spike[models.FeatureErrorRatio] = 0.4
	res := d.Observe("auth", spike)
	if len(res.Flags) != 1 || res.Flags[0].Metric != MetricErrorRatio {
		t.Fatalf("expected single error_ratio flag, got %+v", res.Flags)
	}
	if res.Flags[0].Score <= 0 {
		t.Fatalf("expected upward z-score, got %g", res.Flags[0].Score)
	}

	// Other services are untouched.
	if _, _, count, ok := d.Stats("billing", MetricErrorRatio); ok || count != 0 {
		t.Fatalf("expected no baseline for billing")
	}
	d.Reset("auth")
	if _, _, _, ok := d.Stats("auth", MetricErrorRatio); ok {
		t.Fatalf("expected reset to drop baseline")
	}
}

func TestDetectorFlagsDownwardDeviation(t *testing.T) {
	d := NewDetector(Options{Alpha: 0.1, ZThreshold: 3, Warmup: 5})
	steady := models.FeatureVector{}
	steady[models.FeatureEventRate] = 100
	for i := 0; i < 10; i++ {
		d.Observe("auth", steady)
	}

	drop := steady
	drop[models.FeatureEventRate] = 10
	res := d.Observe("auth", drop)
	if len(res.Flags) != 1 || res.Flags[0].Metric != MetricEventRate {
		t.Fatalf("expected single event_rate flag, got %+v", res.Flags)
	}
	if res.Flags[0].Score >= 0 || res.ZScores[MetricEventRate] != res.Flags[0].Score {
		t.Fatalf("expected negative z-score kept as signed, got %+v", res.Flags[0])
	}
}
