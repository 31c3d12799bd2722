// Package nn provides the small feed-forward regressor used as an ensemble
// member: one hidden layer with a bounded activation and a linear output
// layer, trained on mean squared error with the Adam optimizer.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	// ErrShapeMismatch is returned when weights or inputs do not fit the architecture.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidArchitecture is returned for non-positive widths or unknown activations.
	ErrInvalidArchitecture = errors.New("invalid architecture")
)

// Architecture is the shared shape descriptor of every ensemble member.
type Architecture struct {
	Inputs      int    `json:"inputs"`
	HiddenUnits int    `json:"hidden_units"`
	Activation  string `json:"activation"`
	Outputs     int    `json:"outputs"`
}

// DefaultArchitecture is three predictors, tanh hidden units and one output.
func DefaultArchitecture(hiddenUnits int) Architecture {
	return Architecture{Inputs: 3, HiddenUnits: hiddenUnits, Activation: "tanh", Outputs: 1}
}

// Validate checks widths and activation name.
func (a Architecture) Validate() error {
	if a.Inputs < 1 || a.HiddenUnits < 1 || a.Outputs < 1 {
		return fmt.Errorf("%w: widths %d/%d/%d must be positive", ErrInvalidArchitecture, a.Inputs, a.HiddenUnits, a.Outputs)
	}
	if _, ok := activations[a.Activation]; !ok {
		return fmt.Errorf("%w: unknown activation %q", ErrInvalidArchitecture, a.Activation)
	}
	return nil
}

// ParamCount is the number of trainable parameters.
func (a Architecture) ParamCount() int {
	return a.HiddenUnits*a.Inputs + a.HiddenUnits + a.Outputs*a.HiddenUnits + a.Outputs
}

type activation struct {
	fn func(float64) float64
	// grad is expressed in terms of the activation output.
	grad func(float64) float64
}

var activations = map[string]activation{
	"tanh": {
		fn:   math.Tanh,
		grad: func(a float64) float64 { return 1 - a*a },
	},
	"sigmoid": {
		fn:   func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		grad: func(a float64) float64 { return a * (1 - a) },
	},
}

// Weights is the nested, serializable form of a member's parameters.
type Weights struct {
	Hidden     [][]float64 `json:"hidden"`
	HiddenBias []float64   `json:"hidden_bias"`
	Output     [][]float64 `json:"output"`
	OutputBias []float64   `json:"output_bias"`
}

// Network is one trained or trainable member. Parameters live in a single
// flat slice: hidden weights (row-major, one row per unit), hidden biases,
// output weights (one row per output) and output biases.
type Network struct {
	arch  Architecture
	act   activation
	theta []float64
}

// New returns a network with Glorot-uniform weights and zero biases.
func New(arch Architecture, rng *rand.Rand) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	n := &Network{arch: arch, act: activations[arch.Activation], theta: make([]float64, arch.ParamCount())}
	glorot(n.theta[:n.b1()], arch.Inputs, arch.HiddenUnits, rng)
	glorot(n.theta[n.w2():n.b2()], arch.HiddenUnits, arch.Outputs, rng)
	return n, nil
}

// FromWeights rebuilds a network, rejecting weights whose shapes differ from arch.
func FromWeights(arch Architecture, w Weights) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if len(w.Hidden) != arch.HiddenUnits || len(w.HiddenBias) != arch.HiddenUnits ||
		len(w.Output) != arch.Outputs || len(w.OutputBias) != arch.Outputs {
		return nil, fmt.Errorf("%w: layer sizes do not match %d hidden / %d outputs", ErrShapeMismatch, arch.HiddenUnits, arch.Outputs)
	}
	n := &Network{arch: arch, act: activations[arch.Activation], theta: make([]float64, 0, arch.ParamCount())}
	for k, row := range w.Hidden {
		if len(row) != arch.Inputs {
			return nil, fmt.Errorf("%w: hidden unit %d has %d weights, want %d", ErrShapeMismatch, k, len(row), arch.Inputs)
		}
		n.theta = append(n.theta, row...)
	}
	n.theta = append(n.theta, w.HiddenBias...)
	for o, row := range w.Output {
		if len(row) != arch.HiddenUnits {
			return nil, fmt.Errorf("%w: output %d has %d weights, want %d", ErrShapeMismatch, o, len(row), arch.HiddenUnits)
		}
		n.theta = append(n.theta, row...)
	}
	n.theta = append(n.theta, w.OutputBias...)
	for _, v := range n.theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite parameter", ErrShapeMismatch)
		}
	}
	return n, nil
}

// Architecture returns the member's shape.
func (n *Network) Architecture() Architecture { return n.arch }

// Weights returns a copy of the parameters in nested form.
func (n *Network) Weights() Weights {
	a := n.arch
	w := Weights{
		Hidden:     make([][]float64, a.HiddenUnits),
		HiddenBias: append([]float64(nil), n.theta[n.b1():n.w2()]...),
		Output:     make([][]float64, a.Outputs),
		OutputBias: append([]float64(nil), n.theta[n.b2():]...),
	}
	for k := range w.Hidden {
		w.Hidden[k] = append([]float64(nil), n.theta[k*a.Inputs:(k+1)*a.Inputs]...)
	}
	for o := range w.Output {
		start := n.w2() + o*a.HiddenUnits
		w.Output[o] = append([]float64(nil), n.theta[start:start+a.HiddenUnits]...)
	}
	return w
}

func (n *Network) b1() int { return n.arch.HiddenUnits * n.arch.Inputs }
func (n *Network) w2() int { return n.b1() + n.arch.HiddenUnits }
func (n *Network) b2() int { return n.w2() + n.arch.Outputs*n.arch.HiddenUnits }

// Forward evaluates one input row.
func (n *Network) Forward(x []float64) []float64 {
	hidden := make([]float64, n.arch.HiddenUnits)
	out := make([]float64, n.arch.Outputs)
	n.forward(x, hidden, out)
	return out
}

func (n *Network) forward(x, hidden, out []float64) {
	a := n.arch
	for k := 0; k < a.HiddenUnits; k++ {
		sum := n.theta[n.b1()+k]
		row := n.theta[k*a.Inputs : (k+1)*a.Inputs]
		for i, v := range x {
			sum += row[i] * v
		}
		hidden[k] = n.act.fn(sum)
	}
	for o := 0; o < a.Outputs; o++ {
		sum := n.theta[n.b2()+o]
		start := n.w2() + o*a.HiddenUnits
		for k, h := range hidden {
			sum += n.theta[start+k] * h
		}
		out[o] = sum
	}
}

// Predict evaluates every row, returning one output vector per row.
func (n *Network) Predict(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, x := range rows {
		if len(x) != n.arch.Inputs {
			return nil, fmt.Errorf("%w: row %d has %d inputs, want %d", ErrShapeMismatch, i, len(x), n.arch.Inputs)
		}
		out[i] = n.Forward(x)
	}
	return out, nil
}

func glorot(dst []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range dst {
		dst[i] = (rng.Float64()*2 - 1) * limit
	}
}
