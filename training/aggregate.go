package training

// predictionBuffer collects per-batch prediction and label rows into a
// fixed-size buffer sized numBatches*batchSize, with an explicit validity
// mask marking which slots were filled. The mask disambiguates a short final
// batch from legitimate zero or negative values without reserving any
// sentinel from the value domain.
type predictionBuffer struct {
	preds     []float64
	labels    []float64
	valid     []bool
	batchSize int
}

func newPredictionBuffer(numBatches, batchSize int) *predictionBuffer {
	capacity := numBatches * batchSize
	return &predictionBuffer{
		preds:     make([]float64, capacity),
		labels:    make([]float64, capacity),
		valid:     make([]bool, capacity),
		batchSize: batchSize,
	}
}

// write stores one batch's rows at the batch's slot range and marks them
// valid. labels may be nil for inference passes.
func (b *predictionBuffer) write(batchIndex int, preds, labels []float64) {
	offset := batchIndex * b.batchSize
	for i, p := range preds {
		b.preds[offset+i] = p
		if labels != nil {
			b.labels[offset+i] = labels[i]
		}
		b.valid[offset+i] = true
	}
}

// compact drops unfilled slots and returns the prediction and label arrays
// whose length equals the true sample count
func (b *predictionBuffer) compact() (preds, labels []float64) {
	preds = make([]float64, 0, len(b.preds))
	labels = make([]float64, 0, len(b.labels))
	for i, ok := range b.valid {
		if !ok {
			continue
		}
		preds = append(preds, b.preds[i])
		labels = append(labels, b.labels[i])
	}
	return preds, labels
}
