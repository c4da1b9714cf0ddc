package training

import (
	"encoding/json"
	"io"
)

// Logger is the optional end-of-phase metrics sink. A nil Logger on the
// orchestrator is a valid no-op.
type Logger interface {
	Log(epoch int, values map[string]float64) error
}

// JSONLLogger writes one JSON object per logged epoch-phase to a stream
type JSONLLogger struct {
	encoder *json.Encoder
}

// NewJSONLLogger creates a logger writing JSON lines to w
func NewJSONLLogger(w io.Writer) *JSONLLogger {
	return &JSONLLogger{encoder: json.NewEncoder(w)}
}

type jsonlRecord struct {
	Epoch  int                `json:"epoch"`
	Values map[string]float64 `json:"values"`
}

// Log writes one record
func (l *JSONLLogger) Log(epoch int, values map[string]float64) error {
	return l.encoder.Encode(jsonlRecord{Epoch: epoch, Values: values})
}
