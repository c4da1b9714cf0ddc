// Package backend wraps the two predictive-model variants behind one
// capability set: fit, predict, save, load, and learning-rate annealing. The
// variants are structurally different — the gradient model fits batch by
// batch, the batch-fit model fits once over the materialized split — so the
// backend is a tagged union dispatching on its kind rather than a class
// hierarchy.
package backend

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	unifit "github.com/unifit-ml/unifit"
	"github.com/unifit-ml/unifit/checkpoints"
	"github.com/unifit-ml/unifit/config"
	"github.com/unifit-ml/unifit/nets"
	"github.com/unifit-ml/unifit/trees"
)

// Backend owns one predictive model, its loss criterion, and the fitted
// state. It is constructed once and mutated in place by Fit and Load.
type Backend struct {
	cfg  *config.Config
	kind config.ModelKind

	// gradient variant
	criterion Criterion
	net       *nets.Sequential
	optimizer *nets.SGD

	// batch-fit variant
	booster *trees.Booster

	fitted bool
}

// New constructs the backend variant selected by the config. inputSize is the
// flattened feature width reported by the training data source. All random
// initialization draws from rng.
func New(cfg *config.Config, inputSize int, rng *rand.Rand) (*Backend, error) {
	criterion, err := NewCriterion(cfg)
	if err != nil {
		return nil, err
	}

	b := &Backend{cfg: cfg, kind: cfg.ModelKind, criterion: criterion}

	outputSize := 1
	if cfg.TaskType == config.TaskClassify {
		outputSize = len(cfg.ClassLabels)
	}

	switch cfg.ModelKind {
	case config.KindGradient:
		lr := cfg.Gradient.LearningRate
		if lr <= 0 {
			lr = 1e-3
		}
		b.net = nets.NewNetwork(nets.Arch{
			InputSize:     inputSize,
			HiddenSize:    cfg.Gradient.HiddenSize,
			Layers:        cfg.Gradient.Layers,
			OutputSize:    outputSize,
			Bidirectional: cfg.Gradient.Bidirectional,
		}, rng)
		b.optimizer = nets.NewSGD(b.net.Params(), lr, 0.9)

	case config.KindBatchFit:
		b.booster = trees.NewBooster(trees.Params{
			Estimators:          cfg.BatchFit.Estimators,
			MaxDepth:            cfg.BatchFit.MaxDepth,
			MinSamplesLeaf:      cfg.BatchFit.MinSamplesLeaf,
			Subsample:           cfg.BatchFit.Subsample,
			LearningRate:        cfg.BatchFit.LearningRate,
			RegLambda:           cfg.BatchFit.RegLambda,
			EarlyStoppingRounds: cfg.BatchFit.EarlyStoppingRounds,
		}, cfg.NumClasses(), rng)

	default:
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("unknown model_kind %q", cfg.ModelKind)}
	}

	return b, nil
}

// Kind returns the variant tag the backend dispatches on
func (b *Backend) Kind() config.ModelKind {
	return b.kind
}

// Fitted reports whether a fit or load has completed
func (b *Backend) Fitted() bool {
	return b.fitted
}

// SupportsDevice reports whether this variant can use an accelerator device.
// Only the gradient model places computation onto a device; the batch-fit
// ensemble always runs on the host.
func (b *Backend) SupportsDevice() bool {
	return b.kind == config.KindGradient
}

// Fit runs one gradient step over a single batch and returns the batch loss
// and per-row predictions. Parameters update only during the train phase;
// eval phases score the batch without touching the model. Calling Fit on a
// batch-fit backend is an error — that variant fits via FitSplit.
func (b *Backend) Fit(inputs [][]float64, labels []float64, phase unifit.Phase) (float64, []float64, error) {
	if b.kind != config.KindGradient {
		return 0, nil, fmt.Errorf("per-batch fit is only available on the gradient variant, not %s", b.kind)
	}

	x, err := toDense(inputs)
	if err != nil {
		return 0, nil, err
	}

	outputs := b.net.Forward(x)
	loss, grad, err := b.criterion.Loss(outputs, labels)
	if err != nil {
		return 0, nil, err
	}

	if phase == unifit.PhaseTrain {
		b.optimizer.ZeroGrad()
		b.net.Backward(grad)
		if err := b.optimizer.Step(); err != nil {
			return 0, nil, err
		}
		b.fitted = true
	}

	return loss, b.predsFromOutputs(outputs), nil
}

// FitSplit fits the batch-fit variant once over the whole materialized
// training split, returning its single scalar score. When the held-out pair
// is non-empty, the model runs its internal early stopping against it. The
// gradient variant rejects this call — it fits batch by batch.
func (b *Backend) FitSplit(inputs [][]float64, labels []float64, heldInputs [][]float64, heldLabels []float64) (float64, error) {
	if b.kind != config.KindBatchFit {
		return 0, fmt.Errorf("split fit is only available on the batch-fit variant, not %s", b.kind)
	}

	score, err := b.booster.FitEval(inputs, labels, heldInputs, heldLabels)
	if err != nil {
		return 0, err
	}
	b.fitted = true
	return score, nil
}

// Predict returns one prediction per input row: the class index for classify
// tasks, the regressed value otherwise
func (b *Backend) Predict(inputs [][]float64) ([]float64, error) {
	if !b.fitted {
		return nil, &ModelNotFittedError{Op: "predict"}
	}

	switch b.kind {
	case config.KindGradient:
		x, err := toDense(inputs)
		if err != nil {
			return nil, err
		}
		return b.predsFromOutputs(b.net.Forward(x)), nil
	default:
		return b.booster.Predict(inputs), nil
	}
}

// AnnealLR divides the gradient variant's learning rate by factor in place.
// The batch-fit variant has no learning rate to anneal, so this is a no-op.
func (b *Backend) AnnealLR(factor float64) {
	if b.kind != config.KindGradient || factor <= 0 {
		return
	}
	b.optimizer.SetLR(b.optimizer.GetLR() / factor)
}

// UpdateByEpoch is the per-epoch hook invoked after the train phase. The
// default is a no-op for both variants.
func (b *Backend) UpdateByEpoch(phase unifit.Phase) {
}

// Save persists the backend state to the configured model path. Saving an
// unfitted model is an error.
func (b *Backend) Save() error {
	if !b.fitted {
		return &ModelNotFittedError{Op: "save"}
	}

	checkpoint := &checkpoints.Checkpoint{Kind: string(b.kind)}

	switch b.kind {
	case config.KindGradient:
		checkpoint.TrainingState.LearningRate = b.optimizer.GetLR()
		for _, p := range b.net.Params() {
			rows, cols := p.Value.Dims()
			data := make([]float64, 0, rows*cols)
			for i := 0; i < rows; i++ {
				data = append(data, p.Value.RawRowView(i)...)
			}
			checkpoint.Weights = append(checkpoint.Weights, checkpoints.WeightTensor{
				Name: p.Name,
				Rows: rows,
				Cols: cols,
				Data: data,
			})
		}
	default:
		payload, err := json.Marshal(b.booster)
		if err != nil {
			return fmt.Errorf("failed to serialize ensemble state: %v", err)
		}
		checkpoint.Ensemble = payload
	}

	return checkpoints.Save(checkpoint, b.cfg.ModelPath)
}

// Load restores the backend from the configured model path and marks it
// fitted. A missing checkpoint is a fatal CheckpointLoadError; the backend is
// left untouched in that case rather than silently continuing unfitted.
func (b *Backend) Load() error {
	checkpoint, err := checkpoints.Load(b.cfg.ModelPath)
	if err != nil {
		return err
	}

	if checkpoint.Kind != string(b.kind) {
		return &checkpoints.CheckpointLoadError{
			Path: b.cfg.ModelPath,
			Err:  fmt.Errorf("checkpoint was written by a %s backend, this run uses %s", checkpoint.Kind, b.kind),
		}
	}

	switch b.kind {
	case config.KindGradient:
		params := b.net.Params()
		if len(checkpoint.Weights) != len(params) {
			return &checkpoints.CheckpointLoadError{
				Path: b.cfg.ModelPath,
				Err:  fmt.Errorf("weight count mismatch: checkpoint has %d, model has %d", len(checkpoint.Weights), len(params)),
			}
		}
		for i, w := range checkpoint.Weights {
			rows, cols := params[i].Value.Dims()
			if rows != w.Rows || cols != w.Cols {
				return &checkpoints.CheckpointLoadError{
					Path: b.cfg.ModelPath,
					Err:  fmt.Errorf("shape mismatch for %s: checkpoint %dx%d, model %dx%d", w.Name, w.Rows, w.Cols, rows, cols),
				}
			}
			for r := 0; r < rows; r++ {
				copy(params[i].Value.RawRowView(r), w.Data[r*cols:(r+1)*cols])
			}
		}
		if checkpoint.TrainingState.LearningRate > 0 {
			b.optimizer.SetLR(checkpoint.TrainingState.LearningRate)
		}
	default:
		if err := json.Unmarshal(checkpoint.Ensemble, b.booster); err != nil {
			return &checkpoints.CheckpointLoadError{
				Path: b.cfg.ModelPath,
				Err:  fmt.Errorf("corrupt ensemble payload: %v", err),
			}
		}
	}

	b.fitted = true
	return nil
}

// predsFromOutputs collapses model outputs to one value per row
func (b *Backend) predsFromOutputs(outputs *mat.Dense) []float64 {
	rows, cols := outputs.Dims()
	preds := make([]float64, rows)
	for i := 0; i < rows; i++ {
		if b.cfg.TaskType == config.TaskClassify && cols > 1 {
			maxIdx := 0
			maxVal := outputs.At(i, 0)
			for j := 1; j < cols; j++ {
				if v := outputs.At(i, j); v > maxVal {
					maxVal = v
					maxIdx = j
				}
			}
			preds[i] = float64(maxIdx)
		} else {
			preds[i] = outputs.At(i, 0)
		}
	}
	return preds
}

// toDense packs row-major input rows into a dense matrix
func toDense(inputs [][]float64) (*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("empty input batch")
	}
	cols := len(inputs[0])
	x := mat.NewDense(len(inputs), cols, nil)
	for i, row := range inputs {
		if len(row) != cols {
			return nil, fmt.Errorf("ragged input batch: row %d has %d features, expected %d", i, len(row), cols)
		}
		x.SetRow(i, row)
	}
	return x, nil
}
