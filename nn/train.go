package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// FitConfig controls mini-batch Adam training.
type FitConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultFitConfig mirrors the usual Adam defaults with 30 epochs of 32-row batches.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Epochs:       30,
		BatchSize:    32,
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// History holds the per-epoch training and validation loss (MSE, scaled units).
type History struct {
	Loss    []float64 `json:"loss"`
	ValLoss []float64 `json:"val_loss"`
}

// Fit trains the network in place. Rows are reshuffled every epoch. The
// validation rows are only evaluated, never used for updates; an empty
// validation set yields NaN validation loss.
func (n *Network) Fit(x, y, valX, valY [][]float64, cfg FitConfig, rng *rand.Rand) (History, error) {
	if len(x) == 0 {
		return History{}, fmt.Errorf("%w: no training rows", ErrShapeMismatch)
	}
	if len(x) != len(y) || len(valX) != len(valY) {
		return History{}, fmt.Errorf("%w: %d/%d training and %d/%d validation rows", ErrShapeMismatch, len(x), len(y), len(valX), len(valY))
	}
	if err := n.checkRows(x, y); err != nil {
		return History{}, err
	}
	if err := n.checkRows(valX, valY); err != nil {
		return History{}, err
	}
	if cfg.Epochs < 1 || cfg.BatchSize < 1 || cfg.LearningRate <= 0 {
		return History{}, fmt.Errorf("invalid fit config: epochs=%d batch=%d lr=%g", cfg.Epochs, cfg.BatchSize, cfg.LearningRate)
	}

	st := newTrainState(n)
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}

	hist := History{
		Loss:    make([]float64, 0, cfg.Epochs),
		ValLoss: make([]float64, 0, cfg.Epochs),
	}
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		lossSum := 0.0
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			batch := order[start:end]
			loss := st.gradient(x, y, batch)
			st.adam(cfg)
			lossSum += loss * float64(len(batch))
		}
		hist.Loss = append(hist.Loss, lossSum/float64(len(order)))
		hist.ValLoss = append(hist.ValLoss, n.mse(valX, valY))
	}
	return hist, nil
}

func (n *Network) checkRows(x, y [][]float64) error {
	for i := range x {
		if len(x[i]) != n.arch.Inputs || len(y[i]) != n.arch.Outputs {
			return fmt.Errorf("%w: row %d has %d inputs and %d targets", ErrShapeMismatch, i, len(x[i]), len(y[i]))
		}
	}
	return nil
}

func (n *Network) mse(x, y [][]float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	hidden := make([]float64, n.arch.HiddenUnits)
	out := make([]float64, n.arch.Outputs)
	sum := 0.0
	for i := range x {
		n.forward(x[i], hidden, out)
		for o, v := range out {
			d := v - y[i][o]
			sum += d * d
		}
	}
	return sum / float64(len(x)*n.arch.Outputs)
}

type trainState struct {
	net    *Network
	grad   []float64
	m, v   []float64
	step   int
	hidden []float64
	out    []float64
	dOut   []float64
}

func newTrainState(n *Network) *trainState {
	p := len(n.theta)
	return &trainState{
		net:    n,
		grad:   make([]float64, p),
		m:      make([]float64, p),
		v:      make([]float64, p),
		hidden: make([]float64, n.arch.HiddenUnits),
		out:    make([]float64, n.arch.Outputs),
		dOut:   make([]float64, n.arch.Outputs),
	}
}

// gradient accumulates dLoss/dTheta over the batch and returns the batch MSE.
func (s *trainState) gradient(x, y [][]float64, batch []int) float64 {
	n := s.net
	a := n.arch
	clear(s.grad)
	scale := 2 / float64(len(batch)*a.Outputs)
	loss := 0.0

	for _, idx := range batch {
		n.forward(x[idx], s.hidden, s.out)
		for o := range s.out {
			d := s.out[o] - y[idx][o]
			loss += d * d
			s.dOut[o] = d * scale
		}
		for o, g := range s.dOut {
			start := n.w2() + o*a.HiddenUnits
			for k, h := range s.hidden {
				s.grad[start+k] += g * h
			}
			s.grad[n.b2()+o] += g
		}
		for k, h := range s.hidden {
			back := 0.0
			for o, g := range s.dOut {
				back += n.theta[n.w2()+o*a.HiddenUnits+k] * g
			}
			dPre := back * n.act.grad(h)
			row := s.grad[k*a.Inputs : (k+1)*a.Inputs]
			for i, v := range x[idx] {
				row[i] += dPre * v
			}
			s.grad[n.b1()+k] += dPre
		}
	}
	return loss / float64(len(batch)*a.Outputs)
}

func (s *trainState) adam(cfg FitConfig) {
	s.step++
	c1 := 1 - math.Pow(cfg.Beta1, float64(s.step))
	c2 := 1 - math.Pow(cfg.Beta2, float64(s.step))
	lr := cfg.LearningRate * math.Sqrt(c2) / c1
	for i, g := range s.grad {
		s.m[i] = cfg.Beta1*s.m[i] + (1-cfg.Beta1)*g
		s.v[i] = cfg.Beta2*s.v[i] + (1-cfg.Beta2)*g*g
		s.net.theta[i] -= lr * s.m[i] / (math.Sqrt(s.v[i]) + cfg.Epsilon)
	}
}
