package training

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	unifit "github.com/unifit-ml/unifit"
	"github.com/unifit-ml/unifit/checkpoints"
	"github.com/unifit-ml/unifit/config"
	"github.com/unifit-ml/unifit/metrics"
)

// fakeBackend scripts the backend responses so the epoch machinery and the
// checkpoint-trigger policy can be tested without fitting anything real.
type fakeBackend struct {
	kind config.ModelKind

	// losses consumed one per Fit call, keyed by phase
	losses map[unifit.Phase][]float64
	calls  map[unifit.Phase]int

	fitSplitScore float64
	fitSplitCalls int
	heldOutSizes  []int

	predictFn func(inputs [][]float64) []float64

	saveCount     int
	loadErr       error
	annealFactors []float64
	fitted        bool
}

func newFakeBackend(kind config.ModelKind) *fakeBackend {
	return &fakeBackend{
		kind:   kind,
		losses: make(map[unifit.Phase][]float64),
		calls:  make(map[unifit.Phase]int),
	}
}

func (f *fakeBackend) Kind() config.ModelKind { return f.kind }
func (f *fakeBackend) Fitted() bool           { return f.fitted }
func (f *fakeBackend) SupportsDevice() bool   { return f.kind == config.KindGradient }

func (f *fakeBackend) Fit(inputs [][]float64, labels []float64, phase unifit.Phase) (float64, []float64, error) {
	queue := f.losses[phase]
	i := f.calls[phase]
	f.calls[phase]++
	if i >= len(queue) {
		return 0, nil, fmt.Errorf("unscripted %s fit call %d", phase, i)
	}
	if phase == unifit.PhaseTrain {
		f.fitted = true
	}
	preds := make([]float64, len(labels))
	copy(preds, labels)
	return queue[i], preds, nil
}

func (f *fakeBackend) FitSplit(inputs [][]float64, labels []float64, heldInputs [][]float64, heldLabels []float64) (float64, error) {
	f.fitSplitCalls++
	f.heldOutSizes = append(f.heldOutSizes, len(heldInputs))
	f.fitted = true
	return f.fitSplitScore, nil
}

func (f *fakeBackend) Predict(inputs [][]float64) ([]float64, error) {
	if f.predictFn != nil {
		return f.predictFn(inputs), nil
	}
	preds := make([]float64, len(inputs))
	for i, row := range inputs {
		preds[i] = row[0]
	}
	return preds, nil
}

func (f *fakeBackend) AnnealLR(factor float64) { f.annealFactors = append(f.annealFactors, factor) }
func (f *fakeBackend) UpdateByEpoch(phase unifit.Phase) {}
func (f *fakeBackend) Save() error              { f.saveCount++; return nil }
func (f *fakeBackend) Load() error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.fitted = true
	return nil
}

func testConfig(epochs int) *config.Config {
	return &config.Config{
		TaskType:  config.TaskRegress,
		ModelKind: config.KindGradient,
		ModelPath: filepath.Join("testdata", "unused.json"),
		Epochs:    epochs,
		BatchSize: 4,
		Silent:    true,
	}
}

func rowSource(rows int, batchSize int) *SliceSource {
	inputs := make([][]float64, rows)
	labels := make([]float64, rows)
	for i := range inputs {
		inputs[i] = []float64{float64(i)}
		labels[i] = float64(i)
	}
	return NewSliceSource(inputs, labels, batchSize, 1)
}

func trainValSources(rows, batchSize int) map[unifit.Phase]DataSource {
	return map[unifit.Phase]DataSource{
		unifit.PhaseTrain: rowSource(rows, batchSize),
		unifit.PhaseVal:   rowSource(rows, batchSize),
	}
}

func TestTrainSavesOnlyWhenValImproves(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	// one batch per phase per epoch: val worsens in epoch 1
	fb.losses[unifit.PhaseTrain] = []float64{1.0, 0.9}
	fb.losses[unifit.PhaseVal] = []float64{0.5, 0.6}

	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	o, err := NewOrchestratorWithBackend(testConfig(2), trainValSources(4, 4), fb, registry, nil)
	require.NoError(t, err)

	require.NoError(t, o.Train())

	// first val average always improves, the worse second one never saves
	assert.Equal(t, 1, fb.saveCount)
	assert.Equal(t, 0.5, registry.Metrics()[0].Meter(unifit.PhaseVal).Best)
}

func TestTrainNeverSavesOnTrainImprovement(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	// train improves dramatically, val worsens every epoch after the first
	fb.losses[unifit.PhaseTrain] = []float64{1.0, 0.1, 0.01}
	fb.losses[unifit.PhaseVal] = []float64{0.5, 0.7, 0.9}

	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	o, err := NewOrchestratorWithBackend(testConfig(3), trainValSources(4, 4), fb, registry, nil)
	require.NoError(t, err)

	require.NoError(t, o.Train())
	assert.Equal(t, 1, fb.saveCount, "only the first val phase improves")
}

func TestTrainNonTriggeringMetricNeverSaves(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	fb.losses[unifit.PhaseTrain] = []float64{1.0, 0.5}
	fb.losses[unifit.PhaseVal] = []float64{0.5, 0.4}

	registry := metrics.NewRegistry(metrics.NewLossMetric(false))
	o, err := NewOrchestratorWithBackend(testConfig(2), trainValSources(4, 4), fb, registry, nil)
	require.NoError(t, err)

	require.NoError(t, o.Train())
	assert.Equal(t, 0, fb.saveCount, "no save-triggering metric, no checkpoint")
}

func TestTrainTieDoesNotSave(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	fb.losses[unifit.PhaseTrain] = []float64{1.0, 1.0}
	fb.losses[unifit.PhaseVal] = []float64{0.5, 0.5}

	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	o, err := NewOrchestratorWithBackend(testConfig(2), trainValSources(4, 4), fb, registry, nil)
	require.NoError(t, err)

	require.NoError(t, o.Train())
	assert.Equal(t, 1, fb.saveCount, "matching the best exactly is not an improvement")
}

func TestTrainAnnealsAfterEachTrainPhase(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	fb.losses[unifit.PhaseTrain] = []float64{1.0, 0.9}
	fb.losses[unifit.PhaseVal] = []float64{0.5, 0.4}

	cfg := testConfig(2)
	cfg.LearningAnneal = 1.1

	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	o, err := NewOrchestratorWithBackend(cfg, trainValSources(4, 4), fb, registry, nil)
	require.NoError(t, err)

	require.NoError(t, o.Train())
	assert.Equal(t, []float64{1.1, 1.1}, fb.annealFactors)
}

func TestTrainRequiresBothEpochSources(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	registry := metrics.NewRegistry(metrics.NewLossMetric(true))

	sources := map[unifit.Phase]DataSource{unifit.PhaseTrain: rowSource(4, 4)}
	o, err := NewOrchestratorWithBackend(testConfig(1), sources, fb, registry, nil)
	require.NoError(t, err)

	assert.Error(t, o.Train())
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(1)
	cfg.ModelPath = ""

	_, err := NewOrchestratorWithBackend(cfg, trainValSources(4, 4), newFakeBackend(config.KindGradient), metrics.NewRegistry(), nil)
	require.Error(t, err)

	var confErr *config.ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestBatchFitTrainFitsOncePerEpochWithHeldOut(t *testing.T) {
	fb := newFakeBackend(config.KindBatchFit)
	fb.fitSplitScore = 0.25

	cfg := testConfig(1)
	cfg.ModelKind = config.KindBatchFit
	cfg.BatchFit.EarlyStoppingRounds = 5

	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	o, err := NewOrchestratorWithBackend(cfg, trainValSources(8, 4), fb, registry, nil)
	require.NoError(t, err)

	require.NoError(t, o.Train())

	require.Equal(t, 1, fb.fitSplitCalls)
	// the val split (8 rows) was materialized as the held-out pair
	assert.Equal(t, []int{8}, fb.heldOutSizes)
	// the split score stands in for the loss on both phases
	assert.Equal(t, 0.25, registry.Metrics()[0].Meter(unifit.PhaseVal).Best)
}

func TestBatchFitSkipsHeldOutWithoutEarlyStopping(t *testing.T) {
	fb := newFakeBackend(config.KindBatchFit)

	cfg := testConfig(1)
	cfg.ModelKind = config.KindBatchFit

	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	o, err := NewOrchestratorWithBackend(cfg, trainValSources(8, 4), fb, registry, nil)
	require.NoError(t, err)

	require.NoError(t, o.Train())
	assert.Equal(t, []int{0}, fb.heldOutSizes)
}

func TestTestLoadBestFailureAbortsWithNoPredictions(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	fb.loadErr = &checkpoints.CheckpointLoadError{Path: "missing.json", Err: errors.New("no such file")}

	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	sources := map[unifit.Phase]DataSource{unifit.PhaseTest: rowSource(4, 4)}
	o, err := NewOrchestratorWithBackend(testConfig(1), sources, fb, registry, nil)
	require.NoError(t, err)

	result, err := o.Test(true)
	require.Error(t, err)
	assert.Nil(t, result)

	var loadErr *checkpoints.CheckpointLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestTestAggregatesShortFinalBatch(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	fb.fitted = true
	// echo negated inputs so legitimate negative predictions flow through
	fb.predictFn = func(inputs [][]float64) []float64 {
		preds := make([]float64, len(inputs))
		for i, row := range inputs {
			preds[i] = -row[0]
		}
		return preds
	}

	cfg := testConfig(1)
	cfg.BatchSize = 2

	// 5 rows with batch size 2: the final batch is short
	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	sources := map[unifit.Phase]DataSource{unifit.PhaseTest: rowSource(5, 2)}
	o, err := NewOrchestratorWithBackend(cfg, sources, fb, registry, nil)
	require.NoError(t, err)

	result, err := o.Test(false)
	require.NoError(t, err)

	require.Len(t, result.Preds, 5)
	assert.Equal(t, []float64{0, -1, -2, -3, -4}, result.Preds)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, result.Labels)
}

func TestTestClassifyBuildsConfusionMatrix(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	fb.fitted = true
	// predict class 0 for everything
	fb.predictFn = func(inputs [][]float64) []float64 {
		return make([]float64, len(inputs))
	}

	cfg := testConfig(1)
	cfg.TaskType = config.TaskClassify
	cfg.ClassLabels = []string{"a", "b"}
	cfg.LossWeight = []float64{1, 1}
	cfg.BatchSize = 2

	inputs := [][]float64{{0}, {0}, {1}, {1}}
	labels := []float64{0, 0, 1, 1}
	sources := map[unifit.Phase]DataSource{
		unifit.PhaseTest: NewSliceSource(inputs, labels, 2, 1),
	}

	registry := metrics.NewRegistry(metrics.NewAccuracyMetric(true))
	o, err := NewOrchestratorWithBackend(cfg, sources, fb, registry, nil)
	require.NoError(t, err)

	result, err := o.Test(false)
	require.NoError(t, err)

	require.NotNil(t, result.Confusion)
	assert.Equal(t, 4, result.Confusion.TotalSamples)
	assert.Equal(t, 0.5, result.Confusion.Accuracy())
	// accuracy metric updated for the test phase
	assert.Equal(t, 0.5, registry.Metrics()[0].Meter(unifit.PhaseTest).Average())
}

func TestInferReturnsPredictionsWithoutLabels(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	fb.fitted = true

	cfg := testConfig(1)
	cfg.BatchSize = 2

	inputs := [][]float64{{10}, {20}, {30}}
	sources := map[unifit.Phase]DataSource{
		unifit.PhaseInfer: NewSliceSource(inputs, nil, 2, 1),
	}

	registry := metrics.NewRegistry()
	o, err := NewOrchestratorWithBackend(cfg, sources, fb, registry, nil)
	require.NoError(t, err)

	preds, err := o.Infer(false)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30}, preds)
}

func TestInferMissingSourceErrors(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	registry := metrics.NewRegistry()
	o, err := NewOrchestratorWithBackend(testConfig(1), trainValSources(4, 4), fb, registry, nil)
	require.NoError(t, err)

	_, err = o.Infer(false)
	assert.Error(t, err)
}

func TestDeviceActiveOnlyWhenSupportedAndRequested(t *testing.T) {
	cfg := testConfig(1)
	cfg.UseDevice = true

	grad, err := NewOrchestratorWithBackend(cfg, trainValSources(4, 4), newFakeBackend(config.KindGradient), metrics.NewRegistry(), nil)
	require.NoError(t, err)
	assert.True(t, grad.DeviceActive())

	cfg2 := testConfig(1)
	cfg2.UseDevice = true
	cfg2.ModelKind = config.KindBatchFit
	batch, err := NewOrchestratorWithBackend(cfg2, trainValSources(4, 4), newFakeBackend(config.KindBatchFit), metrics.NewRegistry(), nil)
	require.NoError(t, err)
	assert.False(t, batch.DeviceActive())
}

// capturingLogger records every end-of-phase flush
type capturingLogger struct {
	entries []map[string]float64
}

func (c *capturingLogger) Log(epoch int, values map[string]float64) error {
	c.entries = append(c.entries, values)
	return nil
}

func TestTrainLogsPhasePrefixedAverages(t *testing.T) {
	fb := newFakeBackend(config.KindGradient)
	fb.losses[unifit.PhaseTrain] = []float64{1.0}
	fb.losses[unifit.PhaseVal] = []float64{0.5}

	logger := &capturingLogger{}
	registry := metrics.NewRegistry(metrics.NewLossMetric(true))
	o, err := NewOrchestratorWithBackend(testConfig(1), trainValSources(4, 4), fb, registry, logger)
	require.NoError(t, err)

	require.NoError(t, o.Train())

	require.Len(t, logger.entries, 2)
	assert.Equal(t, 1.0, logger.entries[0]["train_loss"])
	assert.Equal(t, 0.5, logger.entries[1]["val_loss"])
}
