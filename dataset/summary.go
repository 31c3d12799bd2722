package dataset

import (
	"math"
	"sort"
)

// ColumnStats describes the observed (non-NaN) values of one column.
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// InputSummary holds the per-column statistics of a cleaned dataset.
type InputSummary struct {
	Records int           `json:"records"`
	Columns []ColumnStats `json:"columns"`
}

// Summarize computes column statistics for the predictors and, when the
// dataset carries one, the target.
func Summarize(c *Cleaned) InputSummary {
	summary := InputSummary{Records: len(c.Records)}
	for j, name := range PredictorColumns {
		col := make([]float64, len(c.Records))
		for i, r := range c.Records {
			col[i] = r.Predictors()[j]
		}
		summary.Columns = append(summary.Columns, columnStats(name, col))
	}
	if c.HasTarget {
		summary.Columns = append(summary.Columns, columnStats(TargetColumn, c.Targets()))
	}
	return summary
}

// Scenario grid bounds for the upstream FRC sweep.
const (
	ScenarioMinFRC = 0.2
	ScenarioMaxFRC = 2.0
	ScenarioSteps  = 37
)

// ScenarioGrid returns predictor rows sweeping upstream FRC evenly from
// ScenarioMinFRC to ScenarioMaxFRC at a fixed temperature and conductivity.
func ScenarioGrid(temperature, conductivity float64) [][]float64 {
	out := make([][]float64, ScenarioSteps)
	step := (ScenarioMaxFRC - ScenarioMinFRC) / float64(ScenarioSteps-1)
	for i := range out {
		out[i] = []float64{ScenarioMinFRC + float64(i)*step, temperature, conductivity}
	}
	return out
}

func columnStats(name string, values []float64) ColumnStats {
	obs := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			obs = append(obs, v)
		}
	}
	stats := ColumnStats{Column: name, Count: len(obs)}
	if len(obs) == 0 {
		stats.Mean, stats.Median, stats.Min, stats.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return stats
	}
	sum := 0.0
	stats.Min, stats.Max = obs[0], obs[0]
	for _, v := range obs {
		sum += v
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
	}
	stats.Mean = sum / float64(len(obs))
	stats.Median = median(obs)
	return stats
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
