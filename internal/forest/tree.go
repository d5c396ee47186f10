package forest

import (
	"math/rand"
	"sort"
)

const leaf = -1

// impurityEpsilon is the variance below which a node is not split further.
const impurityEpsilon = 1e-12

// Node is one node of a regression tree. Leaves carry Feature == -1.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value"`
	Samples   int     `json:"samples"`
}

// Tree is a CART regression tree stored as a flat node array rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for one feature row.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature == leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type builder struct {
	X              [][]float64
	y              []float64
	minSamplesLeaf int
	numFeatures    int
	rng            *rand.Rand

	nodes      []Node
	importance []float64
}

// growTree fits a tree on the sample indices idx (duplicates allowed) and
// returns it together with its unnormalized impurity decrease per feature.
func growTree(X [][]float64, y []float64, idx []int, minSamplesLeaf int, rng *rand.Rand) (Tree, []float64) {
	b := &builder{
		X:              X,
		y:              y,
		minSamplesLeaf: minSamplesLeaf,
		numFeatures:    len(X[0]),
		rng:            rng,
		importance:     make([]float64, len(X[0])),
	}
	b.grow(idx)
	return Tree{Nodes: b.nodes}, b.importance
}

func (b *builder) grow(idx []int) int {
	sum, sumSq := 0.0, 0.0
	for _, i := range idx {
		sum += b.y[i]
		sumSq += b.y[i] * b.y[i]
	}
	n := float64(len(idx))
	sse := sumSq - sum*sum/n

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf, Value: sum / n, Samples: len(idx)})

	if len(idx) < 2*b.minSamplesLeaf || sse/n <= impurityEpsilon {
		return id
	}

	feature, threshold, childSSE, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.importance[feature] += sse - childSSE

	l := b.grow(left)
	r := b.grow(right)
	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// bestSplit scans every feature, visited in random order, for the threshold
// minimizing the summed squared error of both children.
func (b *builder) bestSplit(idx []int) (feature int, threshold, bestSSE float64, ok bool) {
	sorted := make([]int, len(idx))
	bestSSE = 0

	for _, f := range b.rng.Perm(b.numFeatures) {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.X[sorted[a]][f] < b.X[sorted[c]][f]
		})

		totalSum, totalSq := 0.0, 0.0
		for _, i := range sorted {
			totalSum += b.y[i]
			totalSq += b.y[i] * b.y[i]
		}

		leftSum, leftSq := 0.0, 0.0
		for k := 0; k < len(sorted)-1; k++ {
			v := b.y[sorted[k]]
			leftSum += v
			leftSq += v * v

			nl := k + 1
			nr := len(sorted) - nl
			if nl < b.minSamplesLeaf {
				continue
			}
			if nr < b.minSamplesLeaf {
				break
			}
			lo, hi := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if hi <= lo {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			score := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if !ok || score < bestSSE {
				ok = true
				bestSSE = score
				feature = f
				threshold = lo + (hi-lo)/2
				if threshold == hi {
					threshold = lo
				}
			}
		}
	}

	return feature, threshold, bestSSE, ok
}
