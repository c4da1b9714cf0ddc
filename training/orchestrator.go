// Package training drives the train/val epoch loop and the standalone test
// and infer passes over a model backend. One controlling goroutine executes
// the epoch/phase/batch state machine sequentially; at most one fit or
// predict call is in flight at any time.
package training

import (
	"fmt"
	"math/rand"

	"github.com/cheggaaa/pb/v3"

	unifit "github.com/unifit-ml/unifit"
	"github.com/unifit-ml/unifit/backend"
	"github.com/unifit-ml/unifit/config"
	"github.com/unifit-ml/unifit/metrics"
)

// Orchestrator owns the backend, the per-phase data sources, and the metrics
// registry, and drives the full lifecycle: epochs of train/val, then test or
// infer. Construction performs device and seed setup once; a single seed
// value feeds one explicit RNG handed to every randomness consumer.
type Orchestrator struct {
	cfg      *config.Config
	sources  map[unifit.Phase]DataSource
	backend  ModelBackend
	registry *metrics.Registry
	logger   Logger
	rng      *rand.Rand

	deviceActive bool

	// score of the most recent batch-fit split fit, reused as the loss
	// value for that variant's metric updates
	lastFitScore float64
}

// TestResult bundles everything the test pass produces
type TestResult struct {
	Preds  []float64
	Labels []float64
	// Confusion is populated for classify tasks only
	Confusion *metrics.ConfusionMatrix
}

// NewOrchestrator validates the config, constructs the backend variant it
// selects, and wires the collaborators together. logger may be nil.
func NewOrchestrator(cfg *config.Config, sources map[unifit.Phase]DataSource, registry *metrics.Registry, logger Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sizing := sizingSource(sources)
	if sizing == nil {
		return nil, fmt.Errorf("at least one data source is required to size the model")
	}
	inputSize := sizing.FeatureWidth() * sizing.SeqLen()

	rng := rand.New(rand.NewSource(cfg.Seed))

	b, err := backend.New(cfg, inputSize, rng)
	if err != nil {
		return nil, err
	}

	return newOrchestrator(cfg, sources, b, registry, logger, rng), nil
}

// NewOrchestratorWithBackend wires an already constructed backend instead of
// building one from the config. Callers supplying their own ModelBackend are
// responsible for its initialization.
func NewOrchestratorWithBackend(cfg *config.Config, sources map[unifit.Phase]DataSource, b ModelBackend, registry *metrics.Registry, logger Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	return newOrchestrator(cfg, sources, b, registry, logger, rng), nil
}

func newOrchestrator(cfg *config.Config, sources map[unifit.Phase]DataSource, b ModelBackend, registry *metrics.Registry, logger Logger, rng *rand.Rand) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		sources:      sources,
		backend:      b,
		registry:     registry,
		logger:       logger,
		rng:          rng,
		deviceActive: cfg.UseDevice && b.SupportsDevice(),
	}
}

// sizingSource picks the source whose metadata parametrizes the backend,
// preferring the training split
func sizingSource(sources map[unifit.Phase]DataSource) DataSource {
	for _, phase := range []unifit.Phase{unifit.PhaseTrain, unifit.PhaseVal, unifit.PhaseTest, unifit.PhaseInfer} {
		if src, ok := sources[phase]; ok {
			return src
		}
	}
	return nil
}

// Backend returns the wrapped backend
func (o *Orchestrator) Backend() ModelBackend {
	return o.backend
}

// Registry returns the metrics collection the orchestrator folds results into
func (o *Orchestrator) Registry() *metrics.Registry {
	return o.registry
}

// DeviceActive reports whether the accelerator device was both requested and
// supported by the backend kind
func (o *Orchestrator) DeviceActive() bool {
	return o.deviceActive
}

// Train runs the full epoch loop: for every epoch, the train phase then the
// val phase. Batches flow through the backend, results fold into the metrics
// registry, and the end-of-phase bookkeeping decides checkpointing and
// learning-rate annealing. A failing batch aborts the run; nothing retries.
func (o *Orchestrator) Train() error {
	for _, phase := range unifit.EpochPhases {
		if _, ok := o.sources[phase]; !ok {
			return fmt.Errorf("missing data source for phase %s", phase)
		}
	}

	for epoch := 0; epoch < o.cfg.Epochs; epoch++ {
		for _, phase := range unifit.EpochPhases {
			var err error
			if o.backend.Kind() == config.KindGradient {
				err = o.runGradientPhase(epoch, phase)
			} else {
				err = o.runBatchFitPhase(epoch, phase)
			}
			if err != nil {
				return fmt.Errorf("epoch %d %s phase failed: %v", epoch, phase, err)
			}

			if err := o.endOfPhase(epoch, phase); err != nil {
				return err
			}
		}
	}
	return nil
}

// runGradientPhase feeds every batch through one backend.Fit call. During
// the train phase the model updates in place; during val it only scores.
func (o *Orchestrator) runGradientPhase(epoch int, phase unifit.Phase) error {
	src := o.sources[phase]
	numBatches := src.Len()

	i := 0
	for batch := range src.Batches() {
		loss, preds, err := o.backend.Fit(batch.Inputs, batch.Labels, phase)
		if err != nil {
			return err
		}

		o.registry.Update(phase, loss, preds, batch.Labels)

		if !o.cfg.Silent {
			o.verbose(epoch, phase, i, numBatches)
		}
		i++
	}
	return nil
}

// runBatchFitPhase accumulates the whole phase split and issues a single fit
// (train) or predict (val) at the end. The epoch/phase machine is identical
// to the gradient path; only the fit granularity differs.
func (o *Orchestrator) runBatchFitPhase(epoch int, phase unifit.Phase) error {
	src := o.sources[phase]

	var inputs [][]float64
	var labels []float64
	for batch := range src.Batches() {
		inputs = append(inputs, batch.Inputs...)
		labels = append(labels, batch.Labels...)
	}

	if phase == unifit.PhaseTrain {
		var heldInputs [][]float64
		var heldLabels []float64
		if o.cfg.BatchFit.EarlyStoppingRounds > 0 {
			if valSrc, ok := o.sources[unifit.PhaseVal]; ok {
				heldInputs, heldLabels = materialize(valSrc)
			}
		}

		score, err := o.backend.FitSplit(inputs, labels, heldInputs, heldLabels)
		if err != nil {
			return err
		}
		o.lastFitScore = score
	}

	preds, err := o.backend.Predict(inputs)
	if err != nil {
		return err
	}
	o.registry.Update(phase, o.lastFitScore, preds, labels)

	if !o.cfg.Silent {
		o.verbose(epoch, phase, 0, 1)
	}
	return nil
}

// endOfPhase flushes averages to the logger, updates best scores, triggers
// the checkpoint write when a save-triggering metric improved on val, resets
// the phase accumulators, and anneals the learning rate after train.
func (o *Orchestrator) endOfPhase(epoch int, phase unifit.Phase) error {
	if o.logger != nil {
		values := make(map[string]float64)
		for name, avg := range o.registry.Snapshot(phase) {
			values[string(phase)+"_"+name] = avg
		}
		if err := o.logger.Log(epoch, values); err != nil {
			return fmt.Errorf("metrics logger failed: %v", err)
		}
	}

	for _, metric := range o.registry.Metrics() {
		improved := metric.Meter(phase).UpdateBest()
		if metric.SaveTrigger && improved && phase == unifit.PhaseVal {
			if !o.cfg.Silent {
				fmt.Printf("found better validated model, saving to %s\n", o.cfg.ModelPath)
			}
			if err := o.backend.Save(); err != nil {
				return fmt.Errorf("checkpoint save failed: %v", err)
			}
		}
	}

	o.registry.Reset(phase)

	if phase == unifit.PhaseTrain {
		if o.cfg.LearningAnneal > 0 {
			o.backend.AnnealLR(o.cfg.LearningAnneal)
		}
		o.backend.UpdateByEpoch(phase)
	}
	return nil
}

// Test runs the predict path over the test split. With loadBest it reloads
// the best checkpoint first; a missing checkpoint aborts with zero
// predictions rather than silently testing an unfitted model. For classify
// tasks the result carries a confusion matrix over the class-label indices.
func (o *Orchestrator) Test(loadBest bool) (*TestResult, error) {
	if loadBest {
		if err := o.backend.Load(); err != nil {
			return nil, err
		}
	}

	if _, ok := o.sources[unifit.PhaseTest]; !ok {
		return nil, fmt.Errorf("missing data source for phase %s", unifit.PhaseTest)
	}

	preds, labels, err := o.predictPhase(unifit.PhaseTest)
	if err != nil {
		return nil, err
	}

	testLoss := meanSquaredError(preds, labels)
	for _, metric := range o.registry.Metrics() {
		if metric.Name == "loss" && o.cfg.TaskType == config.TaskClassify {
			// classification loss depends on the model's raw scores,
			// which the predict path has already collapsed away
			continue
		}
		metric.Update(unifit.PhaseTest, testLoss, preds, labels)
	}

	result := &TestResult{Preds: preds, Labels: labels}

	if o.cfg.TaskType == config.TaskClassify {
		cm := metrics.NewConfusionMatrix(len(o.cfg.ClassLabels))
		if err := cm.AddPredictions(preds, labels); err != nil {
			return nil, err
		}
		result.Confusion = cm
		if !o.cfg.Silent {
			fmt.Println(cm)
		}
	}

	return result, nil
}

// Infer runs the predict path over the infer split. It computes no metrics
// and expects no labels.
func (o *Orchestrator) Infer(loadBest bool) ([]float64, error) {
	if loadBest {
		if err := o.backend.Load(); err != nil {
			return nil, err
		}
	}

	if _, ok := o.sources[unifit.PhaseInfer]; !ok {
		return nil, fmt.Errorf("missing data source for phase %s", unifit.PhaseInfer)
	}

	preds, _, err := o.predictPhase(unifit.PhaseInfer)
	return preds, err
}

// predictPhase predicts across every batch of the phase, assembling the full
// prediction and label sequences through the mask-backed fixed-size buffer so
// a short final batch never drops or duplicates samples
func (o *Orchestrator) predictPhase(phase unifit.Phase) ([]float64, []float64, error) {
	src := o.sources[phase]
	buffer := newPredictionBuffer(src.Len(), o.cfg.BatchSize)

	var bar *pb.ProgressBar
	if !o.cfg.Silent {
		bar = pb.StartNew(src.Len())
	}

	i := 0
	for batch := range src.Batches() {
		preds, err := o.backend.Predict(batch.Inputs)
		if err != nil {
			if bar != nil {
				bar.Finish()
			}
			return nil, nil, err
		}
		buffer.write(i, preds, batch.Labels)
		if bar != nil {
			bar.Increment()
		}
		i++
	}
	if bar != nil {
		bar.Finish()
	}

	preds, labels := buffer.compact()
	return preds, labels, nil
}

// verbose prints the per-batch status line with every metric's last value
func (o *Orchestrator) verbose(epoch int, phase unifit.Phase, batch, numBatches int) {
	fmt.Printf("%s epoch: [%d][%d/%d]", phase, epoch, batch+1, numBatches)
	for _, metric := range o.registry.Metrics() {
		fmt.Printf("\t%s %.4f", metric.Name, metric.Meter(phase).Value)
	}
	fmt.Println()
}

// materialize drains a source into flat input and label slices
func materialize(src DataSource) ([][]float64, []float64) {
	var inputs [][]float64
	var labels []float64
	for batch := range src.Batches() {
		inputs = append(inputs, batch.Inputs...)
		labels = append(labels, batch.Labels...)
	}
	return inputs, labels
}

// meanSquaredError is the test-phase loss for regression outputs
func meanSquaredError(preds, labels []float64) float64 {
	if len(preds) == 0 || len(preds) != len(labels) {
		return 0
	}
	sum := 0.0
	for i := range preds {
		d := preds[i] - labels[i]
		sum += d * d
	}
	return sum / float64(len(preds))
}
