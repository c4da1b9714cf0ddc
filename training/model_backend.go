package training

import (
	unifit "github.com/unifit-ml/unifit"
	"github.com/unifit-ml/unifit/config"
)

// ModelBackend is the capability set the orchestrator drives. Both backend
// variants satisfy it; the orchestrator dispatches on Kind to choose between
// per-batch fitting and single end-of-phase split fitting.
type ModelBackend interface {
	Kind() config.ModelKind
	Fitted() bool
	SupportsDevice() bool

	// Fit runs one gradient step over a batch (gradient variant only)
	Fit(inputs [][]float64, labels []float64, phase unifit.Phase) (loss float64, preds []float64, err error)
	// FitSplit fits once over the materialized split (batch-fit variant only)
	FitSplit(inputs [][]float64, labels []float64, heldInputs [][]float64, heldLabels []float64) (score float64, err error)

	Predict(inputs [][]float64) ([]float64, error)
	AnnealLR(factor float64)
	UpdateByEpoch(phase unifit.Phase)

	Save() error
	Load() error
}
