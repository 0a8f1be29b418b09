// Package anomaly provides unsupervised outlier scoring over per-pixel
// spectral-change features. The model is trained fresh per scene pair and is
// never shared across calls.
package anomaly

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mikey/satellite-change-detector/internal/core"
)

const (
	// eulerMascheroni is used by the average unsuccessful-search length of a
	// binary search tree, the path-length normalizer of the forest.
	eulerMascheroni = 0.5772156649

	// scoreSpread below which the feature field is considered uniform and no
	// pixel is flagged. Guards the quantile cut against constant inputs.
	scoreSpread = 1e-9
)

// IsolationForest implements core.AnomalyScorer with a seeded isolation
// forest. Scores follow the standard convention s(x) = 2^(-E[h(x)]/c(n)) in
// (0,1), higher meaning more anomalous. Pixels whose score strictly exceeds
// the (1-contamination) quantile are flagged.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// NewIsolationForest creates a scorer with the given forest shape. The seed is
// fixed per scorer so identical inputs always produce identical masks.
func NewIsolationForest(trees, sampleSize int, contamination float64, seed int64) *IsolationForest {
	if trees <= 0 {
		trees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 256
	}
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.05
	}
	return &IsolationForest{
		Trees:         trees,
		SampleSize:    sampleSize,
		Contamination: contamination,
		Seed:          seed,
	}
}

// Score fits the forest on the full pixel population of one pair and returns
// the per-pixel flags and continuous scores reshaped to the raster grid.
func (f *IsolationForest) Score(ctx context.Context, delta *core.IndexDelta) (*core.AnomalyMask, error) {
	_ = ctx
	rows, cols := delta.NDVI.Dims()
	r2, c2 := delta.NDBI.Dims()
	if rows != r2 || cols != c2 {
		return nil, errors.New("index delta shapes differ")
	}
	n := rows * cols
	if n == 0 {
		return nil, errors.New("empty index delta")
	}

	ndvi := delta.NDVI.RawMatrix().Data
	ndbi := delta.NDBI.RawMatrix().Data

	scores := f.fitScore(ndvi, ndbi)

	mask := &core.AnomalyMask{
		Width:  cols,
		Height: rows,
		Flags:  make([]bool, n),
		Scores: scores,
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	if hi-lo < scoreSpread {
		// Uniform feature field: nothing stands out.
		return mask, nil
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := stat.Quantile(1-f.Contamination, stat.Empirical, sorted, nil)

	for i, s := range scores {
		if s > threshold {
			mask.Flags[i] = true
		}
	}
	return mask, nil
}

func (f *IsolationForest) fitScore(ndvi, ndbi []float64) []float64 {
	n := len(ndvi)
	rng := rand.New(rand.NewSource(f.Seed))

	sample := f.SampleSize
	if sample > n {
		sample = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sample) + 1)))

	trees := make([]*isoNode, f.Trees)
	for t := range trees {
		idx := rng.Perm(n)[:sample]
		trees[t] = buildTree(ndvi, ndbi, idx, 0, heightLimit, rng)
	}

	norm := avgPathLength(sample)
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for _, tr := range trees {
			sum += pathLength(tr, ndvi[i], ndbi[i], 0)
		}
		scores[i] = math.Pow(2, -(sum/float64(len(trees)))/norm)
	}
	return scores
}

// isoNode is one node of an isolation tree. Leaves carry the size of the
// subsample that reached them.
type isoNode struct {
	splitDim int
	splitVal float64
	left     *isoNode
	right    *isoNode
	size     int
	leaf     bool
}

func buildTree(ndvi, ndbi []float64, idx []int, depth, limit int, rng *rand.Rand) *isoNode {
	if len(idx) <= 1 || depth >= limit {
		return &isoNode{leaf: true, size: len(idx)}
	}

	dim := rng.Intn(2)
	feat := ndvi
	if dim == 1 {
		feat = ndbi
	}

	lo, hi := feat[idx[0]], feat[idx[0]]
	for _, i := range idx {
		if feat[i] < lo {
			lo = feat[i]
		}
		if feat[i] > hi {
			hi = feat[i]
		}
	}
	if hi <= lo {
		// Try the other dimension before giving up on this branch.
		other := ndbi
		if dim == 1 {
			other = ndvi
		}
		olo, ohi := other[idx[0]], other[idx[0]]
		for _, i := range idx {
			if other[i] < olo {
				olo = other[i]
			}
			if other[i] > ohi {
				ohi = other[i]
			}
		}
		if ohi <= olo {
			return &isoNode{leaf: true, size: len(idx)}
		}
		dim = 1 - dim
		feat, lo, hi = other, olo, ohi
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []int
	for _, i := range idx {
		if feat[i] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{leaf: true, size: len(idx)}
	}

	return &isoNode{
		splitDim: dim,
		splitVal: split,
		left:     buildTree(ndvi, ndbi, left, depth+1, limit, rng),
		right:    buildTree(ndvi, ndbi, right, depth+1, limit, rng),
	}
}

func pathLength(node *isoNode, ndvi, ndbi float64, depth int) float64 {
	if node.leaf {
		return float64(depth) + avgPathLength(node.size)
	}
	v := ndvi
	if node.splitDim == 1 {
		v = ndbi
	}
	if v < node.splitVal {
		return pathLength(node.left, ndvi, ndbi, depth+1)
	}
	return pathLength(node.right, ndvi, ndbi, depth+1)
}

// avgPathLength is c(n), the average path length of an unsuccessful search in
// a binary search tree of n nodes.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}
