package backend

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/unifit-ml/unifit/config"
)

// Criterion computes a batch loss and its gradient with respect to the model
// outputs. Outputs are one row per sample: a single column for regression,
// one logit column per class for classification.
type Criterion interface {
	Name() string
	Loss(outputs *mat.Dense, labels []float64) (float64, *mat.Dense, error)
}

// NewCriterion selects the criterion for a task: mean squared error for
// regression, class-weighted cross-entropy for classification. A classify
// config whose loss weights do not match its class labels is rejected here,
// at construction, never at first fit.
func NewCriterion(cfg *config.Config) (Criterion, error) {
	switch cfg.TaskType {
	case config.TaskRegress:
		return &MSELoss{}, nil
	case config.TaskClassify:
		if len(cfg.ClassLabels) != len(cfg.LossWeight) {
			return nil, &config.ConfigurationError{Reason: fmt.Sprintf(
				"loss_weight length %d does not match class_labels length %d",
				len(cfg.LossWeight), len(cfg.ClassLabels))}
		}
		return &CrossEntropyLoss{Weights: append([]float64(nil), cfg.LossWeight...)}, nil
	default:
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("unknown task_type %q", cfg.TaskType)}
	}
}

// MSELoss implements mean squared error over single-column outputs
type MSELoss struct{}

func (m *MSELoss) Name() string { return "mse" }

// Loss computes L = (1/N) Σ (o - y)² and its gradient 2(o - y)/N
func (m *MSELoss) Loss(outputs *mat.Dense, labels []float64) (float64, *mat.Dense, error) {
	rows, cols := outputs.Dims()
	if cols != 1 {
		return 0, nil, fmt.Errorf("mse expects single-column outputs, got %d columns", cols)
	}
	if rows != len(labels) {
		return 0, nil, fmt.Errorf("output/label length mismatch: %d vs %d", rows, len(labels))
	}

	grad := mat.NewDense(rows, 1, nil)
	loss := 0.0
	for i := 0; i < rows; i++ {
		diff := outputs.At(i, 0) - labels[i]
		loss += diff * diff
		grad.Set(i, 0, 2*diff/float64(rows))
	}
	return loss / float64(rows), grad, nil
}

// CrossEntropyLoss implements class-weighted cross-entropy over logit outputs
type CrossEntropyLoss struct {
	Weights []float64 // one weight per class index
}

func (c *CrossEntropyLoss) Name() string { return "cross_entropy" }

// Loss applies a row-wise softmax and computes the weighted negative log
// likelihood, returning the gradient with respect to the logits
func (c *CrossEntropyLoss) Loss(outputs *mat.Dense, labels []float64) (float64, *mat.Dense, error) {
	rows, numClasses := outputs.Dims()
	if numClasses != len(c.Weights) {
		return 0, nil, fmt.Errorf("output columns %d do not match class count %d", numClasses, len(c.Weights))
	}
	if rows != len(labels) {
		return 0, nil, fmt.Errorf("output/label length mismatch: %d vs %d", rows, len(labels))
	}

	grad := mat.NewDense(rows, numClasses, nil)
	loss := 0.0

	for i := 0; i < rows; i++ {
		target := int(math.Round(labels[i]))
		if target < 0 || target >= numClasses {
			return 0, nil, fmt.Errorf("label class %d out of range [0, %d)", target, numClasses)
		}
		weight := c.Weights[target]

		// softmax with max subtraction for stability
		maxLogit := outputs.At(i, 0)
		for j := 1; j < numClasses; j++ {
			if v := outputs.At(i, j); v > maxLogit {
				maxLogit = v
			}
		}
		sum := 0.0
		probs := make([]float64, numClasses)
		for j := 0; j < numClasses; j++ {
			probs[j] = math.Exp(outputs.At(i, j) - maxLogit)
			sum += probs[j]
		}

		for j := 0; j < numClasses; j++ {
			p := probs[j] / sum
			g := p
			if j == target {
				if p < 1e-12 {
					p = 1e-12
				}
				loss += -weight * math.Log(p)
				g -= 1
			}
			grad.Set(i, j, weight*g/float64(rows))
		}
	}

	return loss / float64(rows), grad, nil
}
