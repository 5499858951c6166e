package predict

import (
	"math/rand/v2"
	"sort"
)

// Node is one decision tree node. Leaves have Feature == -1.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Value     []float64 `json:"v,omitempty"`
}

// Tree is a binary CART tree stored as a flat node list rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(x []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeBuilder grows either a classification tree (gini over y) or a
// regression tree (squared error over target).
type treeBuilder struct {
	X           [][]float64
	y           []int
	classes     int
	target      []float64
	regression  bool
	maxDepth    int
	minLeaf     int
	maxFeatures int // 0 means all
	rng         *rand.Rand

	importances []float64
}

func (b *treeBuilder) build(idx []int) *Tree {
	if b.importances == nil {
		b.importances = make([]float64, len(b.X[0]))
	}
	t := &Tree{}
	b.grow(t, idx, 0)
	return t
}

func (b *treeBuilder) grow(t *Tree, idx []int, depth int) int {
	pos := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Feature: -1, Value: b.leafValue(idx)})
	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf || b.pure(idx) {
		return pos
	}
	f, thr, gain, ok := b.bestSplit(idx)
	if !ok {
		return pos
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][f] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.importances[f] += gain
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Nodes[pos] = Node{Feature: f, Threshold: thr, Left: l, Right: r}
	return pos
}

func (b *treeBuilder) leafValue(idx []int) []float64 {
	if b.regression {
		var sum float64
		for _, i := range idx {
			sum += b.target[i]
		}
		return []float64{sum / float64(len(idx))}
	}
	dist := make([]float64, b.classes)
	for _, i := range idx {
		dist[b.y[i]]++
	}
	for c := range dist {
		dist[c] /= float64(len(idx))
	}
	return dist
}

func (b *treeBuilder) pure(idx []int) bool {
	for _, i := range idx[1:] {
		if b.regression {
			if b.target[i] != b.target[idx[0]] {
				return false
			}
		} else if b.y[i] != b.y[idx[0]] {
			return false
		}
	}
	return true
}

func (b *treeBuilder) candidates() []int {
	nf := len(b.X[0])
	if b.maxFeatures <= 0 || b.maxFeatures >= nf {
		out := make([]int, nf)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return b.rng.Perm(nf)[:b.maxFeatures]
}

// bestSplit scans midpoints between distinct sorted values of each candidate
// feature and returns the split with the largest impurity decrease.
func (b *treeBuilder) bestSplit(idx []int) (feature int, threshold, gain float64, ok bool) {
	n := len(idx)
	sorted := make([]int, n)
	parent := b.impurity(b.stats(idx))

	for _, f := range b.candidates() {
		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })

		left := newSplitStats(b)
		right := b.stats(sorted)
		for k := 0; k < n-1; k++ {
			left.add(b, sorted[k])
			right.remove(b, sorted[k])
			nl := k + 1
			if nl < b.minLeaf || n-nl < b.minLeaf {
				continue
			}
			lo, hi := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			g := parent - b.impurity(left) - b.impurity(right)
			if g > gain+1e-12 {
				feature, threshold, gain, ok = f, (lo+hi)/2, g, true
			}
		}
	}
	return feature, threshold, gain, ok
}

// splitStats holds the running sums one side of a split needs.
type splitStats struct {
	n      int
	counts []float64
	sum    float64
	sumSq  float64
}

func newSplitStats(b *treeBuilder) *splitStats {
	s := &splitStats{}
	if !b.regression {
		s.counts = make([]float64, b.classes)
	}
	return s
}

func (b *treeBuilder) stats(idx []int) *splitStats {
	s := newSplitStats(b)
	for _, i := range idx {
		s.add(b, i)
	}
	return s
}

func (s *splitStats) add(b *treeBuilder, i int) {
	s.n++
	if b.regression {
		s.sum += b.target[i]
		s.sumSq += b.target[i] * b.target[i]
		return
	}
	s.counts[b.y[i]]++
}

func (s *splitStats) remove(b *treeBuilder, i int) {
	s.n--
	if b.regression {
		s.sum -= b.target[i]
		s.sumSq -= b.target[i] * b.target[i]
		return
	}
	s.counts[b.y[i]]--
}

// impurity is sample-weighted: n*gini for classification, SSE for regression.
func (b *treeBuilder) impurity(s *splitStats) float64 {
	if s.n == 0 {
		return 0
	}
	n := float64(s.n)
	if b.regression {
		return s.sumSq - s.sum*s.sum/n
	}
	g := 1.0
	for _, c := range s.counts {
		p := c / n
		g -= p * p
	}
	return n * g
}

// normalize scales v to sum to 1, leaving an all-zero vector alone.
func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	out := make([]float64, len(v))
	if sum == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
