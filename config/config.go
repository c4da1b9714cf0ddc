package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TaskType selects the prediction task the run optimizes for
type TaskType string

const (
	TaskClassify TaskType = "classify"
	TaskRegress  TaskType = "regress"
)

// ModelKind selects which backend variant the orchestrator drives
type ModelKind string

const (
	// KindGradient is the iteratively trained sequence model, fitted batch by batch
	KindGradient ModelKind = "gradient"
	// KindBatchFit is the one-shot ensemble model, fitted once over the whole split
	KindBatchFit ModelKind = "batchfit"
)

// GradientParams holds hyperparameters for the gradient-trained sequence model
type GradientParams struct {
	HiddenSize    int     `yaml:"hidden_size"`
	Layers        int     `yaml:"layers"`
	Bidirectional bool    `yaml:"bidirectional"`
	BatchNorm     bool    `yaml:"batch_norm"`
	LearningRate  float64 `yaml:"learning_rate"`
}

// BatchFitParams holds hyperparameters for the batch-fit ensemble model
type BatchFitParams struct {
	Estimators          int     `yaml:"estimators"`
	MaxDepth            int     `yaml:"max_depth"`
	MinSamplesLeaf      int     `yaml:"min_samples_leaf"`
	Subsample           float64 `yaml:"subsample"`
	RegAlpha            float64 `yaml:"reg_alpha"`  // L1 regularization strength
	RegLambda           float64 `yaml:"reg_lambda"` // L2 regularization strength
	LearningRate        float64 `yaml:"learning_rate"`
	EarlyStoppingRounds int     `yaml:"early_stopping_rounds"`
}

// Config holds every run parameter. It is built once before the orchestrator
// is constructed and treated as immutable afterwards.
type Config struct {
	TaskType    TaskType  `yaml:"task_type"`
	ModelKind   ModelKind `yaml:"model_kind"`
	ClassLabels []string  `yaml:"class_labels"`
	LossWeight  []float64 `yaml:"loss_weight"`

	ModelPath      string  `yaml:"model_path"`
	Epochs         int     `yaml:"epochs"`
	BatchSize      int     `yaml:"batch_size"`
	Seed           int64   `yaml:"seed"`
	UseDevice      bool    `yaml:"use_device"`
	LearningAnneal float64 `yaml:"learning_anneal"`
	Silent         bool    `yaml:"silent"`

	Gradient GradientParams `yaml:"gradient"`
	BatchFit BatchFitParams `yaml:"batchfit"`
}

// ConfigurationError reports a config rejected at construction time.
// It is never retried: the run must be fixed and restarted.
type ConfigurationError struct {
	MissingKeys []string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	if len(e.MissingKeys) > 0 {
		return fmt.Sprintf("configuration error: missing required keys: %s", strings.Join(e.MissingKeys, ", "))
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Load reads a YAML config file and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required keys and cross-field invariants, enumerating every
// missing key in one error rather than failing on the first
func (c *Config) Validate() error {
	var missing []string

	if c.TaskType == "" {
		missing = append(missing, "task_type")
	}
	if c.ModelKind == "" {
		missing = append(missing, "model_kind")
	}
	if c.ModelPath == "" {
		missing = append(missing, "model_path")
	}
	if c.Epochs <= 0 {
		missing = append(missing, "epochs")
	}
	if c.BatchSize <= 0 {
		missing = append(missing, "batch_size")
	}
	if c.TaskType == TaskClassify && len(c.ClassLabels) == 0 {
		missing = append(missing, "class_labels")
	}
	if c.TaskType == TaskClassify && len(c.LossWeight) == 0 {
		missing = append(missing, "loss_weight")
	}

	if len(missing) > 0 {
		return &ConfigurationError{MissingKeys: missing}
	}

	switch c.TaskType {
	case TaskClassify, TaskRegress:
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown task_type %q", c.TaskType)}
	}

	switch c.ModelKind {
	case KindGradient, KindBatchFit:
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown model_kind %q", c.ModelKind)}
	}

	if c.TaskType == TaskClassify && len(c.ClassLabels) != len(c.LossWeight) {
		return &ConfigurationError{Reason: fmt.Sprintf(
			"loss_weight length %d does not match class_labels length %d",
			len(c.LossWeight), len(c.ClassLabels))}
	}

	if c.LearningAnneal < 0 {
		return &ConfigurationError{Reason: "learning_anneal must be non-negative"}
	}

	return nil
}

// NumClasses returns the number of class labels for classify tasks, 0 otherwise
func (c *Config) NumClasses() int {
	if c.TaskType != TaskClassify {
		return 0
	}
	return len(c.ClassLabels)
}
