// Package baseline keeps exponentially weighted per-service statistics and flags z-score deviations.
package baseline

import "math"

// EWMA tracks an exponentially weighted mean and variance for one metric.
type EWMA struct {
	alpha   float64
	epsilon float64
	warmup  int

	count    int
	mean     float64
	variance float64
}

// NewEWMA builds a tracker. alpha must lie in (0,1); it is fixed for the tracker's lifetime.
func NewEWMA(alpha, epsilon float64, warmup int) *EWMA {
	if epsilon <= 0 {
		epsilon = 1e-9
	}
	if warmup < 0 {
		warmup = 0
	}
	return &EWMA{alpha: alpha, epsilon: epsilon, warmup: warmup}
}

// Update folds x into the statistics and returns the signed z-score of x against the
// statistics as they were before the update. warm is false while the tracker is still
// inside its warmup period; callers must not flag in that case.
func (e *EWMA) Update(x float64) (z float64, warm bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	if e.count == 0 {
		e.mean = x
		e.variance = 0
		e.count = 1
		return 0, false
	}

	diff := x - e.mean
	z = diff / math.Sqrt(e.variance+e.epsilon)
	warm = e.count >= e.warmup

	e.mean = e.alpha*x + (1-e.alpha)*e.mean
	e.variance = e.alpha*diff*diff + (1-e.alpha)*e.variance
	if e.variance < 0 {
		e.variance = 0
	}
	e.count++
	return z, warm
}

// Mean returns the current running mean.
func (e *EWMA) Mean() float64 { return e.mean }

// Variance returns the current running variance, never negative.
func (e *EWMA) Variance() float64 { return e.variance }

// Count returns the number of observations folded in.
func (e *EWMA) Count() int { return e.count }
