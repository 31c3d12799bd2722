package ensemble

import (
	"fmt"
	"slices"

	"github.com/safewater/frcnet/metrics"
)

// DefaultThresholds are the household FRC levels whose exceedance is reported.
var DefaultThresholds = []float64{0.20, 0.25, 0.30}

// Prediction is the ensemble's view of one input record.
type Prediction struct {
	// Inputs are the original-scale predictor values.
	Inputs []float64
	// Members holds one original-scale prediction per member, in member order.
	Members []float64
	Median  float64
	// Probabilities[k] is the share of members predicting <= thresholds[k].
	Probabilities []float64
}

// Predict scores rows whose columns are named by columns. The columns must
// equal the predictor columns the scaler was fit on.
func (e *Ensemble) Predict(columns []string, rows [][]float64, thresholds []float64) ([]Prediction, error) {
	if e.Size() == 0 {
		return nil, ErrEmptyEnsemble
	}
	if !slices.Equal(columns, e.Scaler.Predictors.Columns) {
		return nil, fmt.Errorf("%w: input columns %v, fitted on %v", ErrScalerMismatch, columns, e.Scaler.Predictors.Columns)
	}
	scaled, err := e.Scaler.Predictors.Transform(rows)
	if err != nil {
		return nil, err
	}

	perRecord := make([][]float64, len(rows))
	for i := range perRecord {
		perRecord[i] = make([]float64, e.Size())
	}
	raw := make([]float64, len(rows))
	for m, member := range e.Members {
		out, err := member.Predict(scaled)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", m, err)
		}
		for i, o := range out {
			raw[i] = o[0]
		}
		for i, v := range e.Scaler.InverseTargets(raw) {
			perRecord[i][m] = v
		}
	}

	preds := make([]Prediction, len(rows))
	for i, memberPreds := range perRecord {
		med, probs := Aggregate(memberPreds, thresholds)
		preds[i] = Prediction{
			Inputs:        append([]float64(nil), rows[i]...),
			Members:       memberPreds,
			Median:        med,
			Probabilities: probs,
		}
	}
	metrics.Predictions.Add(float64(len(rows)))
	return preds, nil
}

// Aggregate reduces one record's member predictions to their median and, per
// threshold, the fraction of members at or below it. Every member counts
// equally. A NaN prediction makes the median NaN and never counts as below a
// threshold.
func Aggregate(memberPreds, thresholds []float64) (float64, []float64) {
	probs := make([]float64, len(thresholds))
	if len(memberPreds) == 0 {
		return median(nil), probs
	}
	for k, t := range thresholds {
		n := 0
		for _, p := range memberPreds {
			if p <= t {
				n++
			}
		}
		probs[k] = float64(n) / float64(len(memberPreds))
	}
	return median(memberPreds), probs
}
