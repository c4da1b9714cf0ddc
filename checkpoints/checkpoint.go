// Package checkpoints persists backend state to disk. The format is JSON and
// deliberately opaque to the orchestrator: each backend variant stores its
// own payload and is the only reader of it.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Checkpoint is a complete persisted backend state
type Checkpoint struct {
	// Kind records which backend variant wrote the checkpoint
	Kind string `json:"kind"`

	// Weights carries the gradient variant's parameter tensors
	Weights []WeightTensor `json:"weights,omitempty"`

	// Ensemble carries the batch-fit variant's fitted state verbatim
	Ensemble json.RawMessage `json:"ensemble,omitempty"`

	TrainingState TrainingState `json:"training_state"`
	Metadata      Metadata      `json:"metadata"`
}

// WeightTensor is one named parameter matrix in row-major order
type WeightTensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// TrainingState captures where training stood when the checkpoint was written
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate,omitempty"`
	BestScore    float64 `json:"best_score"`
}

// Metadata describes the checkpoint file itself
type Metadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckpointLoadError reports a checkpoint that could not be read. A missing
// file is fatal for the invoking workflow: the caller must not fall back to
// an unfitted model.
type CheckpointLoadError struct {
	Path string
	Err  error
}

func (e *CheckpointLoadError) Error() string {
	return fmt.Sprintf("failed to load checkpoint from %s: %v", e.Path, e.Err)
}

func (e *CheckpointLoadError) Unwrap() error {
	return e.Err
}

// Save writes the checkpoint to path. The write is staged to a temp file in
// the same directory and renamed into place, so readers never observe a
// partially written checkpoint.
func Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "unifit"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "failed to stage checkpoint file")
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	if err := encoder.Encode(checkpoint); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to flush checkpoint")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to move checkpoint into place at %s", path)
	}
	return nil
}

// Load reads a checkpoint from path. A missing or unreadable file yields a
// CheckpointLoadError carrying the path for diagnostics.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &CheckpointLoadError{Path: path, Err: err}
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, &CheckpointLoadError{Path: path, Err: errors.Wrap(err, "corrupt checkpoint")}
	}

	return &checkpoint, nil
}
