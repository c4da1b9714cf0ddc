package training

// Batch is one delivery from a data source: row-major inputs and one label
// per row. Inference sources deliver nil labels.
type Batch struct {
	Inputs [][]float64
	Labels []float64
}

// DataSource is the per-phase data-loading collaborator. The orchestrator
// consumes batches strictly in delivery order and queries the sizing metadata
// once at construction to parametrize the backend. Sources may prefetch with
// background workers; the orchestrator never reorders or buffers beyond the
// single in-flight batch.
type DataSource interface {
	// Batches starts a fresh pass and yields batches until exhausted
	Batches() <-chan Batch
	// Len returns the number of batches one pass delivers
	Len() int
	// FeatureWidth returns the per-step feature count
	FeatureWidth() int
	// SeqLen returns the sequence length; 1 for non-sequential data
	SeqLen() int
}

// SliceSource is an in-memory DataSource over pre-materialized rows, used by
// tests and small runs. Inputs arrive already flattened to
// SeqLen*FeatureWidth columns.
type SliceSource struct {
	inputs    [][]float64
	labels    []float64
	batchSize int
	seqLen    int
}

// NewSliceSource creates a source delivering the given rows in order,
// batchSize rows at a time. The final batch may be short. labels may be nil
// for inference data.
func NewSliceSource(inputs [][]float64, labels []float64, batchSize, seqLen int) *SliceSource {
	if seqLen <= 0 {
		seqLen = 1
	}
	return &SliceSource{
		inputs:    inputs,
		labels:    labels,
		batchSize: batchSize,
		seqLen:    seqLen,
	}
}

// Batches yields the rows in order, batchSize at a time
func (s *SliceSource) Batches() <-chan Batch {
	ch := make(chan Batch, 1)
	go func() {
		defer close(ch)
		for start := 0; start < len(s.inputs); start += s.batchSize {
			end := start + s.batchSize
			if end > len(s.inputs) {
				end = len(s.inputs)
			}
			batch := Batch{Inputs: s.inputs[start:end]}
			if s.labels != nil {
				batch.Labels = s.labels[start:end]
			}
			ch <- batch
		}
	}()
	return ch
}

// Len returns the number of batches one pass delivers
func (s *SliceSource) Len() int {
	return (len(s.inputs) + s.batchSize - 1) / s.batchSize
}

// FeatureWidth returns the per-step feature count
func (s *SliceSource) FeatureWidth() int {
	if len(s.inputs) == 0 {
		return 0
	}
	return len(s.inputs[0]) / s.seqLen
}

// SeqLen returns the sequence length
func (s *SliceSource) SeqLen() int {
	return s.seqLen
}
