// Package forest implements an isolation forest over window feature vectors.
package forest

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const eulerGamma = 0.5772156649

// BuildOptions sizes a model build.
type BuildOptions struct {
	Trees      int
	Subsample  int
	MinSamples int
}

// Model is an immutable ensemble of isolation trees. It is safe for concurrent scoring.
type Model struct {
	trees     []tree
	subsample int
	norm      float64
	builtAt   time.Time
	samples   int
}

type tree struct {
	nodes []node
}

type node struct {
	feature int
	split   float64
	left    int32
	right   int32
	size    int32
	leaf    bool
}

// Build grows a model from samples. It returns a ModelBuildError when there are fewer
// than MinSamples vectors.
func Build(samples []models.FeatureVector, opts BuildOptions, rng *rand.Rand) (*Model, error) {
	minSamples := max(opts.MinSamples, 2)
	if len(samples) < minSamples {
		return nil, utils.ModelBuildError("forest.build",
			fmt.Sprintf("need %d samples, have %d", minSamples, len(samples)))
	}
	if opts.Trees < 1 {
		opts.Trees = 1
	}
	s := opts.Subsample
	if s < 2 || s > len(samples) {
		s = len(samples)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(s))))

	m := &Model{
		trees:     make([]tree, opts.Trees),
		subsample: s,
		norm:      averagePathLength(s),
		builtAt:   time.Now(),
		samples:   len(samples),
	}
	idx := make([]int, len(samples))
	for t := range m.trees {
		for i := range idx {
			idx[i] = i
		}
		// Partial Fisher-Yates: the first s entries become the subsample.
		for i := 0; i < s; i++ {
			j := i + rng.IntN(len(idx)-i)
			idx[i], idx[j] = idx[j], idx[i]
		}
		m.trees[t] = grow(samples, idx[:s], maxDepth, rng)
	}
	return m, nil
}

type frame struct {
	node   int32
	lo, hi int
	depth  int
}

// grow builds one tree with an explicit stack. idx is partitioned in place.
func grow(samples []models.FeatureVector, idx []int, maxDepth int, rng *rand.Rand) tree {
	nodes := make([]node, 1, 2*len(idx))
	stack := []frame{{node: 0, lo: 0, hi: len(idx), depth: 0}}
	candidates := make([]int, 0, models.NumFeatures)
	var lows, highs [models.NumFeatures]float64

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size := f.hi - f.lo

		if size <= 1 || f.depth >= maxDepth {
			nodes[f.node] = node{leaf: true, size: int32(size)}
			continue
		}

		for d := 0; d < models.NumFeatures; d++ {
			lows[d], highs[d] = math.Inf(1), math.Inf(-1)
		}
		for _, i := range idx[f.lo:f.hi] {
			for d, x := range samples[i] {
				lows[d] = math.Min(lows[d], x)
				highs[d] = math.Max(highs[d], x)
			}
		}
		candidates = candidates[:0]
		for d := 0; d < models.NumFeatures; d++ {
			if highs[d] > lows[d] {
				candidates = append(candidates, d)
			}
		}
		if len(candidates) == 0 {
			// Every point is identical; nothing left to isolate.
			nodes[f.node] = node{leaf: true, size: int32(size)}
			continue
		}

		feature := candidates[rng.IntN(len(candidates))]
		split := lows[feature] + rng.Float64()*(highs[feature]-lows[feature])

		mid := f.lo
		for i := f.lo; i < f.hi; i++ {
			if samples[idx[i]][feature] < split {
				idx[i], idx[mid] = idx[mid], idx[i]
				mid++
			}
		}
		if mid == f.lo || mid == f.hi {
			nodes[f.node] = node{leaf: true, size: int32(size)}
			continue
		}

		left := int32(len(nodes))
		nodes = append(nodes, node{}, node{})
		nodes[f.node] = node{feature: feature, split: split, left: left, right: left + 1, size: int32(size)}
		stack = append(stack,
			frame{node: left, lo: f.lo, hi: mid, depth: f.depth + 1},
			frame{node: left + 1, lo: mid, hi: f.hi, depth: f.depth + 1},
		)
	}
	return tree{nodes: nodes}
}

// pathLength walks vec down the tree, adding the expected remaining depth at the leaf.
func (t tree) pathLength(vec models.FeatureVector) float64 {
	var i int32
	depth := 0
	for !t.nodes[i].leaf {
		n := t.nodes[i]
		if vec[n.feature] < n.split {
			i = n.left
		} else {
			i = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(int(t.nodes[i].size))
}

// Score returns 2^(-E[h(x)]/c(s)) in (0,1]; values near 1 are outliers.
func (m *Model) Score(vec models.FeatureVector) float64 {
	if m == nil || len(m.trees) == 0 || m.norm == 0 {
		return 0.5
	}
	total := 0.0
	for _, t := range m.trees {
		total += t.pathLength(vec)
	}
	avg := total / float64(len(m.trees))
	return math.Pow(2, -avg/m.norm)
}

// Trees returns the ensemble size.
func (m *Model) Trees() int { return len(m.trees) }

// Subsample returns the per-tree subsample size used.
func (m *Model) Subsample() int { return m.subsample }

// Samples returns the number of vectors the model was trained on.
func (m *Model) Samples() int { return m.samples }

// BuiltAt returns the build time.
func (m *Model) BuiltAt() time.Time { return m.builtAt }

// averagePathLength is c(n), the mean path length of an unsuccessful BST search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*harmonic(fn-1) - 2*(fn-1)/fn
}

func harmonic(i float64) float64 {
	return math.Log(i) + eulerGamma
}
