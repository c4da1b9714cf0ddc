package metrics

import (
	"fmt"
	"math"
	"strings"
)

// ConfusionMatrix counts prediction outcomes over class-label indices for
// classification test reports. Rows are true classes, columns predicted.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int
	TotalSamples int
}

// NewConfusionMatrix creates an empty matrix for the given class count
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// AddPredictions rounds each prediction/label pair to class indices and
// counts them. Pairs with an index outside [0, NumClasses) are skipped.
func (cm *ConfusionMatrix) AddPredictions(preds, labels []float64) error {
	if len(preds) != len(labels) {
		return fmt.Errorf("prediction/label length mismatch: %d vs %d", len(preds), len(labels))
	}

	for i := range preds {
		predClass := int(math.Round(preds[i]))
		trueClass := int(math.Round(labels[i]))
		if trueClass < 0 || trueClass >= cm.NumClasses || predClass < 0 || predClass >= cm.NumClasses {
			continue
		}
		cm.Matrix[trueClass][predClass]++
		cm.TotalSamples++
	}
	return nil
}

// Accuracy returns the fraction of counted samples on the diagonal
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// String renders the matrix with true classes as rows
func (cm *ConfusionMatrix) String() string {
	var sb strings.Builder
	for i, row := range cm.Matrix {
		fmt.Fprintf(&sb, "true=%d\t", i)
		for _, n := range row {
			fmt.Fprintf(&sb, "%6d", n)
		}
		if i < len(cm.Matrix)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
