package trees

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Params holds the boosting hyperparameters
type Params struct {
	Estimators          int     `json:"estimators"`
	MaxDepth            int     `json:"max_depth"`
	MinSamplesLeaf      int     `json:"min_samples_leaf"`
	Subsample           float64 `json:"subsample"`
	LearningRate        float64 `json:"learning_rate"`
	RegLambda           float64 `json:"reg_lambda"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds"`
}

func (p Params) withDefaults() Params {
	if p.Estimators <= 0 {
		p.Estimators = 100
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = 3
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = 1
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = 1
	}
	if p.LearningRate <= 0 {
		p.LearningRate = 0.1
	}
	return p
}

// Booster is a gradient-boosted ensemble of shallow regression trees. For
// regression it boosts the target directly; for classification it boosts
// one-vs-rest scores per class and predicts the argmax class index. Fit runs
// the full internal iteration in one call, optionally stopping early against
// a held-out pair. All exported fields exist so the whole fitted state can be
// serialized as an opaque checkpoint payload.
type Booster struct {
	Params     Params    `json:"params"`
	NumClasses int       `json:"num_classes"` // 0 means regression
	Base       []float64 `json:"base"`        // initial score per output
	Rounds     [][]*Node `json:"rounds"`      // Rounds[r][output]

	rng *rand.Rand
}

// NewBooster creates an unfitted booster. numClasses is 0 for regression.
// Subsampling draws from rng only.
func NewBooster(params Params, numClasses int, rng *rand.Rand) *Booster {
	return &Booster{
		Params:     params.withDefaults(),
		NumClasses: numClasses,
		rng:        rng,
	}
}

// numOutputs is 1 for regression, one score per class otherwise
func (b *Booster) numOutputs() int {
	if b.NumClasses > 0 {
		return b.NumClasses
	}
	return 1
}

// Fit runs the full boosting iteration over the materialized split and
// returns the final training loss (mean squared error of the boosted scores)
func (b *Booster) Fit(inputs [][]float64, labels []float64) (float64, error) {
	return b.FitEval(inputs, labels, nil, nil)
}

// FitEval is Fit with an optional held-out pair. When the pair is present,
// the held-out loss is evaluated every round and boosting stops once it has
// not improved for EarlyStoppingRounds rounds.
func (b *Booster) FitEval(inputs [][]float64, labels []float64, heldInputs [][]float64, heldLabels []float64) (float64, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("cannot fit on an empty split")
	}
	if len(inputs) != len(labels) {
		return 0, fmt.Errorf("input/label length mismatch: %d vs %d", len(inputs), len(labels))
	}
	useHeldOut := len(heldInputs) > 0
	if useHeldOut && len(heldInputs) != len(heldLabels) {
		return 0, fmt.Errorf("held-out input/label length mismatch: %d vs %d", len(heldInputs), len(heldLabels))
	}

	outputs := b.numOutputs()
	targets := b.encodeTargets(labels)

	b.Base = baseScores(targets, outputs)
	b.Rounds = nil

	// current boosted score per row per output
	scores := make([][]float64, len(inputs))
	for i := range scores {
		scores[i] = append([]float64(nil), b.Base...)
	}

	var heldScores [][]float64
	var heldTargets [][]float64
	if useHeldOut {
		heldTargets = b.encodeTargets(heldLabels)
		heldScores = make([][]float64, len(heldInputs))
		for i := range heldScores {
			heldScores[i] = append([]float64(nil), b.Base...)
		}
	}

	bestHeldLoss := math.Inf(1)
	roundsSinceBest := 0
	trainLoss := 0.0

	for round := 0; round < b.Params.Estimators; round++ {
		indices := b.sampleIndices(len(inputs))
		roundTrees := make([]*Node, outputs)

		for out := 0; out < outputs; out++ {
			residuals := make([]float64, len(inputs))
			for i := range inputs {
				residuals[i] = targets[i][out] - scores[i][out]
			}

			tree := growTree(inputs, residuals, indices, b.Params.MaxDepth, b.Params.MinSamplesLeaf, b.Params.RegLambda)
			roundTrees[out] = tree

			for i := range inputs {
				scores[i][out] += b.Params.LearningRate * tree.Predict(inputs[i])
			}
		}
		b.Rounds = append(b.Rounds, roundTrees)

		trainLoss = scoreLoss(scores, targets)

		if useHeldOut {
			for i := range heldInputs {
				for out := 0; out < outputs; out++ {
					heldScores[i][out] += b.Params.LearningRate * roundTrees[out].Predict(heldInputs[i])
				}
			}
			heldLoss := scoreLoss(heldScores, heldTargets)
			if heldLoss < bestHeldLoss {
				bestHeldLoss = heldLoss
				roundsSinceBest = 0
			} else {
				roundsSinceBest++
				if b.Params.EarlyStoppingRounds > 0 && roundsSinceBest >= b.Params.EarlyStoppingRounds {
					break
				}
			}
		}
	}

	return trainLoss, nil
}

// Predict returns one value per input row: the boosted score for regression,
// the argmax class index for classification
func (b *Booster) Predict(inputs [][]float64) []float64 {
	outputs := b.numOutputs()
	preds := make([]float64, len(inputs))

	for i, row := range inputs {
		score := append([]float64(nil), b.Base...)
		for _, roundTrees := range b.Rounds {
			for out := 0; out < outputs; out++ {
				score[out] += b.Params.LearningRate * roundTrees[out].Predict(row)
			}
		}

		if b.NumClasses > 0 {
			preds[i] = float64(floats.MaxIdx(score))
		} else {
			preds[i] = score[0]
		}
	}
	return preds
}

// encodeTargets turns labels into per-output regression targets: the raw
// value for regression, a one-hot row for classification
func (b *Booster) encodeTargets(labels []float64) [][]float64 {
	outputs := b.numOutputs()
	targets := make([][]float64, len(labels))
	for i, y := range labels {
		row := make([]float64, outputs)
		if b.NumClasses > 0 {
			cls := int(math.Round(y))
			if cls >= 0 && cls < outputs {
				row[cls] = 1
			}
		} else {
			row[0] = y
		}
		targets[i] = row
	}
	return targets
}

// sampleIndices draws a subsample of row indices without replacement
func (b *Booster) sampleIndices(n int) []int {
	if b.Params.Subsample >= 1 || b.rng == nil {
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}

	k := int(float64(n) * b.Params.Subsample)
	if k < 1 {
		k = 1
	}
	perm := b.rng.Perm(n)
	indices := perm[:k]
	sort.Ints(indices)
	return indices
}

// baseScores returns the mean target per output as the boosting start point
func baseScores(targets [][]float64, outputs int) []float64 {
	base := make([]float64, outputs)
	if len(targets) == 0 {
		return base
	}
	for _, row := range targets {
		for out := 0; out < outputs; out++ {
			base[out] += row[out]
		}
	}
	for out := 0; out < outputs; out++ {
		base[out] /= float64(len(targets))
	}
	return base
}

// scoreLoss is the mean squared error of boosted scores against targets
func scoreLoss(scores, targets [][]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	count := 0
	for i := range scores {
		for out := range scores[i] {
			d := scores[i][out] - targets[i][out]
			sum += d * d
			count++
		}
	}
	return sum / float64(count)
}
