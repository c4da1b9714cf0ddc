package trees

import (
	"math"
	"sort"
)

// Node is one node of a regression tree. Leaves carry a prediction value;
// internal nodes route rows by comparing one feature against a threshold.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
	Left      *Node   `json:"left,omitempty"`
	Right     *Node   `json:"right,omitempty"`
}

// IsLeaf reports whether the node carries a prediction value
func (n *Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// Predict routes one row to its leaf value
func (n *Node) Predict(row []float64) float64 {
	node := n
	for !node.IsLeaf() {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// growTree fits a depth-limited regression tree to the targets of the rows
// selected by indices. regLambda shrinks leaf values toward zero.
func growTree(inputs [][]float64, targets []float64, indices []int, depth, minLeaf int, regLambda float64) *Node {
	if depth <= 0 || len(indices) < 2*minLeaf {
		return &Node{Value: leafValue(targets, indices, regLambda)}
	}

	feature, threshold, ok := bestSplit(inputs, targets, indices, minLeaf)
	if !ok {
		return &Node{Value: leafValue(targets, indices, regLambda)}
	}

	var left, right []int
	for _, i := range indices {
		if inputs[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      growTree(inputs, targets, left, depth-1, minLeaf, regLambda),
		Right:     growTree(inputs, targets, right, depth-1, minLeaf, regLambda),
	}
}

// leafValue is the regularized mean target of the rows reaching the leaf
func leafValue(targets []float64, indices []int, regLambda float64) float64 {
	if len(indices) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range indices {
		sum += targets[i]
	}
	return sum / (float64(len(indices)) + regLambda)
}

// bestSplit searches every feature and every adjacent-value midpoint for the
// split minimizing the summed squared error of the two sides
func bestSplit(inputs [][]float64, targets []float64, indices []int, minLeaf int) (int, float64, bool) {
	if len(indices) == 0 {
		return 0, 0, false
	}

	numFeatures := len(inputs[indices[0]])
	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	type pair struct{ x, y float64 }
	pairs := make([]pair, len(indices))

	for f := 0; f < numFeatures; f++ {
		for i, idx := range indices {
			pairs[i] = pair{inputs[idx][f], targets[idx]}
		}
		sort.Slice(pairs, func(a, b int) bool { return pairs[a].x < pairs[b].x })

		// Prefix sums let each candidate split score in O(1)
		total, totalSq := 0.0, 0.0
		for _, p := range pairs {
			total += p.y
			totalSq += p.y * p.y
		}

		leftSum, leftSq := 0.0, 0.0
		for i := 0; i < len(pairs)-1; i++ {
			leftSum += pairs[i].y
			leftSq += pairs[i].y * pairs[i].y

			if pairs[i].x == pairs[i+1].x {
				continue
			}
			nLeft := i + 1
			nRight := len(pairs) - nLeft
			if nLeft < minLeaf || nRight < minLeaf {
				continue
			}

			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nLeft)) +
				(rightSq - rightSum*rightSum/float64(nRight))

			if sse < bestScore {
				bestScore = sse
				bestFeature = f
				bestThreshold = (pairs[i].x + pairs[i+1].x) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}
