// Package scaler implements the reversible min-max feature scaling applied to
// predictors and target before training and inference.
package scaler

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrScalerMismatch is returned when input columns differ from the fitted columns.
	ErrScalerMismatch = errors.New("scaler mismatch")
	// ErrNotFitted is returned when a scaler has no fitted bounds.
	ErrNotFitted = errors.New("scaler not fitted")
)

// MinMax rescales each column linearly so the fitted minimum maps to 0 and
// the fitted maximum maps to 1. Values outside the fit range extrapolate.
type MinMax struct {
	Columns []string  `json:"columns"`
	Min     []float64 `json:"min"`
	Max     []float64 `json:"max"`
}

// FitMinMax records per-column bounds over rows. NaN cells are ignored.
func FitMinMax(columns []string, rows [][]float64) (MinMax, error) {
	if len(rows) == 0 {
		return MinMax{}, fmt.Errorf("%w: no rows to fit", ErrNotFitted)
	}
	m := MinMax{
		Columns: append([]string(nil), columns...),
		Min:     make([]float64, len(columns)),
		Max:     make([]float64, len(columns)),
	}
	for j := range columns {
		m.Min[j], m.Max[j] = math.Inf(1), math.Inf(-1)
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return MinMax{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrScalerMismatch, i, len(row), len(columns))
		}
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			m.Min[j] = math.Min(m.Min[j], v)
			m.Max[j] = math.Max(m.Max[j], v)
		}
	}
	for j, name := range columns {
		if math.IsInf(m.Min[j], 1) {
			return MinMax{}, fmt.Errorf("%w: column %s has no observed values", ErrNotFitted, name)
		}
	}
	return m, nil
}

// Width is the number of fitted columns.
func (m MinMax) Width() int { return len(m.Min) }

// span is the fitted range, with a zero range treated as 1 so constant
// columns map onto 0 and still invert exactly.
func (m MinMax) span(j int) float64 {
	r := m.Max[j] - m.Min[j]
	if r == 0 {
		return 1
	}
	return r
}

// Forward scales a single value of column j.
func (m MinMax) Forward(j int, v float64) float64 {
	return (v - m.Min[j]) / m.span(j)
}

// Inverse undoes Forward for column j.
func (m MinMax) Inverse(j int, v float64) float64 {
	return v*m.span(j) + m.Min[j]
}

// Transform scales every row. Rows must match the fitted width.
func (m MinMax) Transform(rows [][]float64) ([][]float64, error) {
	return m.apply(rows, m.Forward)
}

// InverseTransform maps scaled rows back to original units.
func (m MinMax) InverseTransform(rows [][]float64) ([][]float64, error) {
	return m.apply(rows, m.Inverse)
}

func (m MinMax) apply(rows [][]float64, fn func(int, float64) float64) ([][]float64, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != m.Width() {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrScalerMismatch, i, len(row), m.Width())
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = fn(j, v)
		}
		out[i] = scaled
	}
	return out, nil
}

// Validate checks that the bounds are present and consistent.
func (m MinMax) Validate() error {
	if len(m.Min) == 0 {
		return ErrNotFitted
	}
	if len(m.Min) != len(m.Max) || (len(m.Columns) != 0 && len(m.Columns) != len(m.Min)) {
		return fmt.Errorf("%w: %d columns, %d minima, %d maxima", ErrNotFitted, len(m.Columns), len(m.Min), len(m.Max))
	}
	return nil
}

// State pairs the independently fitted predictor and target transforms.
type State struct {
	Predictors MinMax `json:"predictors"`
	Target     MinMax `json:"target"`
}

// Fit fits both transforms over the full dataset.
func Fit(predictorColumns []string, predictors [][]float64, targetColumn string, targets []float64) (State, error) {
	p, err := FitMinMax(predictorColumns, predictors)
	if err != nil {
		return State{}, fmt.Errorf("fit predictors: %w", err)
	}
	t, err := FitMinMax([]string{targetColumn}, column(targets))
	if err != nil {
		return State{}, fmt.Errorf("fit target: %w", err)
	}
	return State{Predictors: p, Target: t}, nil
}

// Validate checks both transforms, and that the target is one column wide.
func (s State) Validate() error {
	if err := s.Predictors.Validate(); err != nil {
		return fmt.Errorf("predictors: %w", err)
	}
	if err := s.Target.Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if s.Target.Width() != 1 {
		return fmt.Errorf("%w: target has %d columns", ErrScalerMismatch, s.Target.Width())
	}
	return nil
}

// TransformTargets scales a target vector.
func (s State) TransformTargets(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = s.Target.Forward(0, v)
	}
	return out
}

// InverseTargets maps scaled targets back to original units.
func (s State) InverseTargets(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = s.Target.Inverse(0, v)
	}
	return out
}

func column(values []float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, v := range values {
		out[i] = []float64{v}
	}
	return out
}
