package backend

import "fmt"

// ModelNotFittedError reports a Predict or Save call on a backend that has
// neither completed a fit nor loaded a checkpoint
type ModelNotFittedError struct {
	Op string
}

func (e *ModelNotFittedError) Error() string {
	return fmt.Sprintf("%s called before the model was fitted or loaded", e.Op)
}
