package metrics

import (
	"math"
	"testing"

	unifit "github.com/unifit-ml/unifit"
)

func TestAccuracyScore(t *testing.T) {
	tests := []struct {
		name   string
		preds  []float64
		labels []float64
		want   float64
	}{
		{"all correct", []float64{0, 1, 2}, []float64{0, 1, 2}, 1.0},
		{"half correct", []float64{0, 1, 1, 0}, []float64{0, 1, 0, 1}, 0.5},
		{"rounds before comparing", []float64{0.9, 1.2}, []float64{1, 1}, 1.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AccuracyScore(0, tt.preds, tt.labels); got != tt.want {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestRegistryUpdatesEveryMetric(t *testing.T) {
	loss := NewLossMetric(true)
	acc := NewAccuracyMetric(false)
	r := NewRegistry(loss, acc)

	r.Update(unifit.PhaseTrain, 0.8, []float64{1, 0}, []float64{1, 1})

	if got := loss.Meter(unifit.PhaseTrain).Average(); got != 0.8 {
		t.Errorf("expected loss average 0.8, got %f", got)
	}
	if got := acc.Meter(unifit.PhaseTrain).Average(); got != 0.5 {
		t.Errorf("expected accuracy average 0.5, got %f", got)
	}
}

func TestRegistryPhasesAreIndependent(t *testing.T) {
	loss := NewLossMetric(true)
	r := NewRegistry(loss)

	r.Update(unifit.PhaseTrain, 1.0, []float64{0}, []float64{0})
	r.Update(unifit.PhaseVal, 3.0, []float64{0}, []float64{0})

	if got := loss.Meter(unifit.PhaseTrain).Average(); got != 1.0 {
		t.Errorf("train average polluted: %f", got)
	}
	if got := loss.Meter(unifit.PhaseVal).Average(); got != 3.0 {
		t.Errorf("val average polluted: %f", got)
	}

	r.Reset(unifit.PhaseTrain)
	if !math.IsNaN(loss.Meter(unifit.PhaseTrain).Average()) {
		t.Error("train meter should be empty after reset")
	}
	if got := loss.Meter(unifit.PhaseVal).Average(); got != 3.0 {
		t.Errorf("resetting train must not touch val, got %f", got)
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(NewLossMetric(true), NewAccuracyMetric(false))
	r.Update(unifit.PhaseVal, 0.25, []float64{1, 1}, []float64{1, 1})

	snap := r.Snapshot(unifit.PhaseVal)
	if snap["loss"] != 0.25 {
		t.Errorf("expected loss 0.25, got %f", snap["loss"])
	}
	if snap["accuracy"] != 1.0 {
		t.Errorf("expected accuracy 1.0, got %f", snap["accuracy"])
	}
}

func TestRegistryOrderIsStable(t *testing.T) {
	a := NewMetric("a", LowerIsBetter, false, LossScore)
	b := NewMetric("b", LowerIsBetter, false, LossScore)
	c := NewMetric("c", LowerIsBetter, false, LossScore)
	r := NewRegistry(a, b, c)

	got := r.Metrics()
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Name != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].Name)
		}
	}
}
