package forest

import (
	"math/rand"
	"sort"
)

// Node is either a split (Left/Right >= 0) or a leaf holding the class
// distribution of the training samples that reached it.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      int       `json:"l"`
	Right     int       `json:"r"`
	Proba     []float64 `json:"p,omitempty"`
}

func (n *Node) isLeaf() bool {
	return n.Left < 0
}

// Tree stores its nodes flat; the root is Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(x []float64) []float64 {
	n := &t.Nodes[0]
	for !n.isLeaf() {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Proba
}

// Depth returns the length of the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.isLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

type builder struct {
	X           [][]float64
	y           []int
	nClasses    int
	maxFeatures int
	params      Params
	rng         *rand.Rand

	nodes []Node
	pairs []valueClass
}

type valueClass struct {
	value float64
	class int
}

type split struct {
	feature   int
	threshold float64
	score     float64
}

// sample draws the rows a tree is trained on: a bootstrap sample of the
// same size, or every row when bootstrapping is off.
func (b *builder) sample() []int {
	n := len(b.y)
	idx := make([]int, n)
	for i := range idx {
		if b.params.Bootstrap {
			idx[i] = b.rng.Intn(n)
		} else {
			idx[i] = i
		}
	}
	return idx
}

func (b *builder) build(idx []int) Tree {
	b.nodes = b.nodes[:0]
	b.pairs = make([]valueClass, 0, len(idx))
	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}
}

// grow appends the subtree for idx in pre-order and returns its root index.
func (b *builder) grow(idx []int, depth int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1})

	counts := b.counts(idx)
	if b.stop(idx, counts, depth) {
		b.nodes[self].Proba = normalize(counts, len(idx))
		return self
	}

	best, ok := b.bestSplit(idx)
	if !ok {
		b.nodes[self].Proba = normalize(counts, len(idx))
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self].Feature = best.feature
	b.nodes[self].Threshold = best.threshold
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

func (b *builder) stop(idx []int, counts []int, depth int) bool {
	if len(idx) < b.params.MinSamplesSplit || len(idx) < 2*b.params.MinSamplesLeaf {
		return true
	}
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return true
	}
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// bestSplit evaluates maxFeatures randomly chosen features. Like CART in
// scikit-learn it keeps drawing past maxFeatures while none of the drawn
// features allows a split.
func (b *builder) bestSplit(idx []int) (split, bool) {
	nFeatures := len(b.X[0])
	order := b.rng.Perm(nFeatures)

	var best split
	found := false
	for visited, feature := range order {
		if visited >= b.maxFeatures && found {
			break
		}
		s, ok := b.splitFeature(idx, feature)
		if ok && (!found || s.score > best.score) {
			best = s
			found = true
		}
	}
	return best, found
}

// splitFeature finds the threshold on one feature that minimizes the
// weighted Gini impurity of the children. The score maximized is
// sum(cL^2)/nL + sum(cR^2)/nR, which is equivalent.
func (b *builder) splitFeature(idx []int, feature int) (split, bool) {
	pairs := b.pairs[:0]
	for _, i := range idx {
		pairs = append(pairs, valueClass{value: b.X[i][feature], class: b.y[i]})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].value != pairs[j].value {
			return pairs[i].value < pairs[j].value
		}
		return pairs[i].class < pairs[j].class
	})
	b.pairs = pairs

	n := len(pairs)
	if pairs[0].value == pairs[n-1].value {
		return split{}, false
	}

	right := make([]int, b.nClasses)
	for _, p := range pairs {
		right[p.class]++
	}
	left := make([]int, b.nClasses)

	var sqLeft float64
	sqRight := 0.0
	for _, c := range right {
		sqRight += float64(c) * float64(c)
	}

	minLeaf := b.params.MinSamplesLeaf
	var best split
	found := false
	for i := 0; i < n-1; i++ {
		c := pairs[i].class
		sqLeft += float64(2*left[c] + 1)
		sqRight -= float64(2*right[c] - 1)
		left[c]++
		right[c]--

		if pairs[i].value == pairs[i+1].value {
			continue
		}
		nLeft := i + 1
		nRight := n - nLeft
		if nLeft < minLeaf || nRight < minLeaf {
			continue
		}

		score := sqLeft/float64(nLeft) + sqRight/float64(nRight)
		if !found || score > best.score {
			threshold := pairs[i].value + (pairs[i+1].value-pairs[i].value)/2
			if threshold >= pairs[i+1].value {
				threshold = pairs[i].value
			}
			best = split{feature: feature, threshold: threshold, score: score}
			found = true
		}
	}
	return best, found
}

func (b *builder) counts(idx []int) []int {
	counts := make([]int, b.nClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	return counts
}

func normalize(counts []int, n int) []float64 {
	proba := make([]float64, len(counts))
	for c, k := range counts {
		proba[c] = float64(k) / float64(n)
	}
	return proba
}
