package metrics

import "math"

// Direction states whether smaller or larger averages count as improvement
type Direction int

const (
	LowerIsBetter Direction = iota
	HigherIsBetter
)

func (d Direction) String() string {
	switch d {
	case LowerIsBetter:
		return "lower"
	case HigherIsBetter:
		return "higher"
	default:
		return "unknown"
	}
}

// AverageMeter tracks one statistic across the batches of a phase: the last
// observed value, a running sample-weighted average, and the best average
// seen so far. Reset clears the running state between epochs; Best survives
// resets for the lifetime of the meter.
type AverageMeter struct {
	Value     float64 // last value folded in
	Best      float64 // best end-of-phase average so far
	direction Direction
	sum       float64
	count     int
	hasBest   bool
}

// NewAverageMeter creates a meter comparing averages in the given direction
func NewAverageMeter(direction Direction) *AverageMeter {
	return &AverageMeter{direction: direction}
}

// Update folds a per-batch value into the running average, weighted by the
// number of samples the value was computed over
func (m *AverageMeter) Update(value float64, n int) {
	if n <= 0 {
		return
	}
	m.Value = value
	m.sum += value * float64(n)
	m.count += n
}

// Average returns the running sample-weighted average, or NaN before any update
func (m *AverageMeter) Average() float64 {
	if m.count == 0 {
		return math.NaN()
	}
	return m.sum / float64(m.count)
}

// Count returns the number of samples folded in since the last reset
func (m *AverageMeter) Count() int {
	return m.count
}

// UpdateBest compares the current average against the stored best. On strict
// improvement in the meter's direction it records the new best and returns
// true; ties and regressions return false. The very first average always
// counts as an improvement.
func (m *AverageMeter) UpdateBest() bool {
	avg := m.Average()
	if math.IsNaN(avg) {
		return false
	}

	if !m.hasBest {
		m.Best = avg
		m.hasBest = true
		return true
	}

	improved := false
	switch m.direction {
	case LowerIsBetter:
		improved = avg < m.Best
	case HigherIsBetter:
		improved = avg > m.Best
	}

	if improved {
		m.Best = avg
	}
	return improved
}

// Reset clears the running sum and count for the next epoch. Best is kept.
func (m *AverageMeter) Reset() {
	m.Value = 0
	m.sum = 0
	m.count = 0
}
