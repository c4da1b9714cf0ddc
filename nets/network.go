package nets

import (
	"math/rand"
)

// Arch describes the shape of a feed-forward sequence network. Inputs arrive
// flattened to SeqLen*FeatureWidth columns per row; Bidirectional doubles the
// effective hidden width, mirroring the summed forward/backward passes of the
// recurrent stack this replaces.
type Arch struct {
	InputSize     int
	HiddenSize    int
	Layers        int
	OutputSize    int
	Bidirectional bool
}

// NewNetwork builds a Linear/ReLU stack for the given architecture. Weight
// initialization draws from rng only.
func NewNetwork(arch Arch, rng *rand.Rand) *Sequential {
	hidden := arch.HiddenSize
	if arch.Bidirectional {
		hidden *= 2
	}
	if hidden <= 0 {
		hidden = arch.InputSize
	}
	layers := arch.Layers
	if layers <= 0 {
		layers = 1
	}

	modules := make([]Module, 0, layers*2)
	in := arch.InputSize
	for i := 0; i < layers; i++ {
		modules = append(modules, NewLinear(in, hidden, rng), NewReLU())
		in = hidden
	}
	modules = append(modules, NewLinear(in, arch.OutputSize, rng))

	return NewSequential(modules...)
}
