package nets

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is one trainable parameter matrix with its accumulated gradient
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// ZeroGrad clears the accumulated gradient
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Module is one differentiable layer. Forward caches whatever Backward needs;
// Backward consumes the upstream gradient, accumulates parameter gradients,
// and returns the gradient with respect to its input.
type Module interface {
	Forward(input *mat.Dense) *mat.Dense
	Backward(gradOutput *mat.Dense) *mat.Dense
	Params() []*Param
}

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	weight *Param
	bias   *Param
	input  *mat.Dense // cached for backward
}

// NewLinear creates a linear layer with scaled-uniform initialization drawn
// from the given source. Passing the run RNG keeps initialization
// deterministic per seed without any process-global state.
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	bound := math.Sqrt(6.0 / float64(inFeatures+outFeatures))
	w := mat.NewDense(inFeatures, outFeatures, nil)
	for i := 0; i < inFeatures; i++ {
		for j := 0; j < outFeatures; j++ {
			w.Set(i, j, (rng.Float64()*2-1)*bound)
		}
	}

	return &Linear{
		weight: &Param{
			Name:  fmt.Sprintf("linear_%dx%d.weight", inFeatures, outFeatures),
			Value: w,
			Grad:  mat.NewDense(inFeatures, outFeatures, nil),
		},
		bias: &Param{
			Name:  fmt.Sprintf("linear_%dx%d.bias", inFeatures, outFeatures),
			Value: mat.NewDense(1, outFeatures, nil),
			Grad:  mat.NewDense(1, outFeatures, nil),
		},
	}
}

// Forward computes y = xW + b for a batch of row vectors
func (l *Linear) Forward(input *mat.Dense) *mat.Dense {
	l.input = input

	rows, _ := input.Dims()
	_, out := l.weight.Value.Dims()

	y := mat.NewDense(rows, out, nil)
	y.Mul(input, l.weight.Value)
	for i := 0; i < rows; i++ {
		for j := 0; j < out; j++ {
			y.Set(i, j, y.At(i, j)+l.bias.Value.At(0, j))
		}
	}
	return y
}

// Backward accumulates dW = xᵀg and db = Σg, returning dx = gWᵀ
func (l *Linear) Backward(gradOutput *mat.Dense) *mat.Dense {
	rows, out := gradOutput.Dims()
	in, _ := l.weight.Value.Dims()

	var gradW mat.Dense
	gradW.Mul(l.input.T(), gradOutput)
	l.weight.Grad.Add(l.weight.Grad, &gradW)

	for j := 0; j < out; j++ {
		sum := l.bias.Grad.At(0, j)
		for i := 0; i < rows; i++ {
			sum += gradOutput.At(i, j)
		}
		l.bias.Grad.Set(0, j, sum)
	}

	gradInput := mat.NewDense(rows, in, nil)
	gradInput.Mul(gradOutput, l.weight.Value.T())
	return gradInput
}

// Params returns the weight and bias parameters
func (l *Linear) Params() []*Param {
	return []*Param{l.weight, l.bias}
}

// ReLU implements the rectified linear activation
type ReLU struct {
	input *mat.Dense
}

// NewReLU creates a ReLU activation layer
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward zeroes negative entries
func (r *ReLU) Forward(input *mat.Dense) *mat.Dense {
	r.input = input
	rows, cols := input.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := input.At(i, j); v > 0 {
				out.Set(i, j, v)
			}
		}
	}
	return out
}

// Backward masks the upstream gradient where the input was non-positive
func (r *ReLU) Backward(gradOutput *mat.Dense) *mat.Dense {
	rows, cols := gradOutput.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if r.input.At(i, j) > 0 {
				out.Set(i, j, gradOutput.At(i, j))
			}
		}
	}
	return out
}

// Params returns nil; ReLU has no trainable parameters
func (r *ReLU) Params() []*Param {
	return nil
}

// Sequential chains modules, feeding each one's output to the next
type Sequential struct {
	modules []Module
}

// NewSequential creates a sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward runs the chain front to back
func (s *Sequential) Forward(input *mat.Dense) *mat.Dense {
	x := input
	for _, m := range s.modules {
		x = m.Forward(x)
	}
	return x
}

// Backward runs the chain back to front
func (s *Sequential) Backward(gradOutput *mat.Dense) *mat.Dense {
	g := gradOutput
	for i := len(s.modules) - 1; i >= 0; i-- {
		g = s.modules[i].Backward(g)
	}
	return g
}

// Params collects parameters from every module in order
func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, m := range s.modules {
		params = append(params, m.Params()...)
	}
	return params
}
