package metrics

import (
	unifit "github.com/unifit-ml/unifit"
)

// Registry is an ordered collection of metrics sharing one lifecycle: every
// batch updates all of them, and end-of-phase bookkeeping walks them in
// registration order.
type Registry struct {
	metrics []*Metric
}

// NewRegistry creates a registry over the given metrics, kept in order
func NewRegistry(metrics ...*Metric) *Registry {
	return &Registry{metrics: metrics}
}

// Metrics returns the registered metrics in registration order
func (r *Registry) Metrics() []*Metric {
	return r.metrics
}

// Update folds one batch into every metric's meter for the phase
func (r *Registry) Update(phase unifit.Phase, loss float64, preds, labels []float64) {
	for _, m := range r.metrics {
		m.Update(phase, loss, preds, labels)
	}
}

// Snapshot returns the current phase averages keyed by metric name
func (r *Registry) Snapshot(phase unifit.Phase) map[string]float64 {
	values := make(map[string]float64, len(r.metrics))
	for _, m := range r.metrics {
		values[m.Name] = m.Meter(phase).Average()
	}
	return values
}

// Reset clears every metric's running accumulator for the phase. Best values
// are untouched.
func (r *Registry) Reset(phase unifit.Phase) {
	for _, m := range r.metrics {
		m.Meter(phase).Reset()
	}
}
