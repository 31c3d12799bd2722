// Package ensemble trains, persists and evaluates a fixed-size collection of
// identically shaped nn members that share one scaler.State.
//
// Members are addressed by index. Training stores each member's network and
// metrics at its index regardless of completion order, persistence writes
// network<i>.json for i in 0..N-1, and inference iterates members in the same
// order, so a given persisted ensemble always yields identical predictions.
package ensemble

import (
	"encoding/json"
	"errors"
	"math"
	"sort"

	"github.com/safewater/frcnet/nn"
	"github.com/safewater/frcnet/scaler"
)

var (
	// ErrCorruptOrIncompleteEnsemble is returned by Load when any member, the
	// architecture or the scaler state cannot be reconstructed.
	ErrCorruptOrIncompleteEnsemble = errors.New("corrupt or incomplete ensemble")
	// ErrEmptyEnsemble is returned when predicting or saving with zero members.
	ErrEmptyEnsemble = errors.New("empty ensemble")
	// ErrScalerMismatch is scaler.ErrScalerMismatch, re-exported for callers of Predict.
	ErrScalerMismatch = scaler.ErrScalerMismatch
)

// Ensemble is the unit that is trained, saved, loaded and queried.
type Ensemble struct {
	Architecture nn.Architecture
	Members      []*nn.Network
	Scaler       scaler.State
}

// Size is the number of members.
func (e *Ensemble) Size() int {
	if e == nil {
		return 0
	}
	return len(e.Members)
}

// RunMetrics are one member's final-epoch scores on original-scale targets.
// R² is NaN when the split has fewer than two rows or a constant target.
// History is the per-epoch loss on scaled targets for the training and
// validation splits.
type RunMetrics struct {
	Index    int
	TrainMSE float64
	ValMSE   float64
	TrainR2  float64
	ValR2    float64
	History  nn.History
}

// FinalLoss returns the last epoch's scaled training and validation loss, or
// NaN when no epoch was recorded.
func (m RunMetrics) FinalLoss() (loss, valLoss float64) {
	return last(m.History.Loss), last(m.History.ValLoss)
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Summary holds the medians of each RunMetrics series.
type Summary struct {
	TrainMSE float64
	ValMSE   float64
	TrainR2  float64
	ValR2    float64
}

// Summarize takes the median of each metric across runs. A NaN anywhere in a
// series makes that series' median NaN.
func Summarize(runs []RunMetrics) Summary {
	series := func(get func(RunMetrics) float64) float64 {
		values := make([]float64, len(runs))
		for i, r := range runs {
			values[i] = get(r)
		}
		return median(values)
	}
	return Summary{
		TrainMSE: series(func(r RunMetrics) float64 { return r.TrainMSE }),
		ValMSE:   series(func(r RunMetrics) float64 { return r.ValMSE }),
		TrainR2:  series(func(r RunMetrics) float64 { return r.TrainR2 }),
		ValR2:    series(func(r RunMetrics) float64 { return r.ValR2 }),
	}
}

// median returns NaN for an empty slice or when any value is NaN.
func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	for _, v := range sorted {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func meanSquaredError(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return sum / float64(len(actual))
}

// rSquared is 1 - SS_res/SS_tot.
func rSquared(actual, predicted []float64) float64 {
	if len(actual) < 2 {
		return math.NaN()
	}
	mean := 0.0
	for _, v := range actual {
		mean += v
	}
	mean /= float64(len(actual))

	var ssRes, ssTot float64
	for i, v := range actual {
		ssRes += (v - predicted[i]) * (v - predicted[i])
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		return math.NaN()
	}
	return 1 - ssRes/ssTot
}

// JSON cannot carry NaN, so undefined scores travel as null.

type runMetricsJSON struct {
	Index    int        `json:"index"`
	TrainMSE *float64   `json:"train_mse"`
	ValMSE   *float64   `json:"val_mse"`
	TrainR2  *float64   `json:"train_r2"`
	ValR2    *float64   `json:"val_r2"`
	Loss     []*float64 `json:"loss,omitempty"`
	ValLoss  []*float64 `json:"val_loss,omitempty"`
}

func (m RunMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(runMetricsJSON{
		Index:    m.Index,
		TrainMSE: nullable(m.TrainMSE),
		ValMSE:   nullable(m.ValMSE),
		TrainR2:  nullable(m.TrainR2),
		ValR2:    nullable(m.ValR2),
		Loss:     nullableSeries(m.History.Loss),
		ValLoss:  nullableSeries(m.History.ValLoss),
	})
}

func (m *RunMetrics) UnmarshalJSON(data []byte) error {
	var w runMetricsJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = RunMetrics{
		Index:    w.Index,
		TrainMSE: fromNullable(w.TrainMSE),
		ValMSE:   fromNullable(w.ValMSE),
		TrainR2:  fromNullable(w.TrainR2),
		ValR2:    fromNullable(w.ValR2),
		History: nn.History{
			Loss:    fromNullableSeries(w.Loss),
			ValLoss: fromNullableSeries(w.ValLoss),
		},
	}
	return nil
}

type summaryJSON struct {
	TrainMSE *float64 `json:"median_train_mse"`
	ValMSE   *float64 `json:"median_val_mse"`
	TrainR2  *float64 `json:"median_train_r2"`
	ValR2    *float64 `json:"median_val_r2"`
}

func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryJSON{
		TrainMSE: nullable(s.TrainMSE),
		ValMSE:   nullable(s.ValMSE),
		TrainR2:  nullable(s.TrainR2),
		ValR2:    nullable(s.ValR2),
	})
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var w summaryJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Summary{
		TrainMSE: fromNullable(w.TrainMSE),
		ValMSE:   fromNullable(w.ValMSE),
		TrainR2:  fromNullable(w.TrainR2),
		ValR2:    fromNullable(w.ValR2),
	}
	return nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nullableSeries(values []float64) []*float64 {
	if len(values) == 0 {
		return nil
	}
	out := make([]*float64, len(values))
	for i, v := range values {
		out[i] = nullable(v)
	}
	return out
}

func fromNullableSeries(values []*float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	for i, p := range values {
		out[i] = fromNullable(p)
	}
	return out
}

func fromNullable(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
