// Package unifit provides a unified training, evaluation, and inference
// lifecycle over two structurally different predictive-model backends: an
// iteratively gradient-trained sequence model and a one-shot batch-fit
// ensemble model. Subpackages hold the orchestrator (training), the backend
// abstraction (backend), metric bookkeeping (metrics), and checkpoint
// persistence (checkpoints).
package unifit

// Phase identifies one stage of the model lifecycle. Train and val run inside
// the epoch loop, in that order; test and infer run standalone afterwards.
type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseVal   Phase = "val"
	PhaseTest  Phase = "test"
	PhaseInfer Phase = "infer"
)

// EpochPhases lists the phases executed inside every epoch, in order
var EpochPhases = []Phase{PhaseTrain, PhaseVal}

func (p Phase) String() string {
	return string(p)
}
