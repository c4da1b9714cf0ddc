package metrics

import (
	"math"

	unifit "github.com/unifit-ml/unifit"
)

// ScoreFunc computes a metric's per-batch scalar from the batch loss and the
// per-row predictions and labels
type ScoreFunc func(loss float64, preds, labels []float64) float64

// LossScore passes the batch loss through unchanged
func LossScore(loss float64, preds, labels []float64) float64 {
	return loss
}

// AccuracyScore returns the fraction of predictions matching their labels
// after rounding both to the nearest class index
func AccuracyScore(loss float64, preds, labels []float64) float64 {
	if len(preds) == 0 || len(preds) != len(labels) {
		return 0
	}
	correct := 0
	for i := range preds {
		if math.Round(preds[i]) == math.Round(labels[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(preds))
}

// Metric is one named, tracked statistic with a per-phase running average and
// a remembered best value. A metric flagged as save-triggering causes a
// checkpoint write when it improves on the validation phase.
type Metric struct {
	Name        string
	SaveTrigger bool

	direction Direction
	score     ScoreFunc
	meters    map[unifit.Phase]*AverageMeter
}

// NewMetric creates a metric with the given scoring function
func NewMetric(name string, direction Direction, saveTrigger bool, score ScoreFunc) *Metric {
	return &Metric{
		Name:        name,
		SaveTrigger: saveTrigger,
		direction:   direction,
		score:       score,
		meters:      make(map[unifit.Phase]*AverageMeter),
	}
}

// NewLossMetric creates the standard lower-is-better loss metric
func NewLossMetric(saveTrigger bool) *Metric {
	return NewMetric("loss", LowerIsBetter, saveTrigger, LossScore)
}

// NewAccuracyMetric creates the standard higher-is-better accuracy metric
func NewAccuracyMetric(saveTrigger bool) *Metric {
	return NewMetric("accuracy", HigherIsBetter, saveTrigger, AccuracyScore)
}

// Meter returns the meter for a phase, creating it on first use
func (m *Metric) Meter(phase unifit.Phase) *AverageMeter {
	meter, ok := m.meters[phase]
	if !ok {
		meter = NewAverageMeter(m.direction)
		m.meters[phase] = meter
	}
	return meter
}

// Update scores one batch and folds the result into the phase's meter,
// weighted by the number of rows in the batch
func (m *Metric) Update(phase unifit.Phase, loss float64, preds, labels []float64) {
	n := len(preds)
	if n == 0 {
		n = len(labels)
	}
	if n == 0 {
		n = 1 // loss-only update with no per-row data
	}
	m.Meter(phase).Update(m.score(loss, preds, labels), n)
}
