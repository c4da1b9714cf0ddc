package nets

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Optimizer updates parameters from their accumulated gradients
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
}

// SGD implements stochastic gradient descent with optional momentum
type SGD struct {
	params       []*Param
	learningRate float64
	momentum     float64
	velocities   []*mat.Dense
}

// NewSGD creates an SGD optimizer over the given parameters
func NewSGD(params []*Param, learningRate, momentum float64) *SGD {
	velocities := make([]*mat.Dense, len(params))
	for i, p := range params {
		rows, cols := p.Value.Dims()
		velocities[i] = mat.NewDense(rows, cols, nil)
	}
	return &SGD{
		params:       params,
		learningRate: learningRate,
		momentum:     momentum,
		velocities:   velocities,
	}
}

// Step applies one update: v = momentum*v + grad; p -= lr*v
func (s *SGD) Step() error {
	if s.learningRate <= 0 {
		return fmt.Errorf("invalid learning rate: %f", s.learningRate)
	}

	for i, p := range s.params {
		v := s.velocities[i]
		rows, cols := p.Value.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				vel := s.momentum*v.At(r, c) + p.Grad.At(r, c)
				v.Set(r, c, vel)
				p.Value.Set(r, c, p.Value.At(r, c)-s.learningRate*vel)
			}
		}
	}
	return nil
}

// ZeroGrad clears every parameter's accumulated gradient
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// GetLR returns the current learning rate
func (s *SGD) GetLR() float64 {
	return s.learningRate
}

// SetLR replaces the learning rate in place
func (s *SGD) SetLR(lr float64) {
	s.learningRate = lr
}
