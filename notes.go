// Package frcnet builds the plain-text notes that accompany a trained
// ensemble or a set of household FRC predictions.
package frcnet

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/safewater/frcnet/dataset"
	"github.com/safewater/frcnet/ensemble"
	"github.com/safewater/frcnet/export"
)

// TrainingFacts is what the training notes report on.
type TrainingFacts struct {
	SourceFile  string
	SessionID   string
	Data        *dataset.Cleaned
	Input       dataset.InputSummary
	Members     int
	Epochs      int
	HiddenUnits int
	DroppedRows int
	Summary     ensemble.Summary
}

// BuildTrainingNotes summarizes a training session.
func BuildTrainingNotes(f TrainingFacts) string {
	var b strings.Builder

	b.WriteString("FRC Ensemble Training Notes\n")
	if f.SourceFile != "" {
		fmt.Fprintf(&b, "Input file: %s\n", f.SourceFile)
	}
	if f.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", f.SessionID)
	}
	if d := f.Data; d != nil {
		fmt.Fprintf(&b, "Schema: %s (%s -> %s)\n", d.Variant.Name, d.Variant.UpstreamFRC, d.Variant.DownstreamFRC)
		fmt.Fprintf(
			&b,
			"Records: %d used of %d read | %d incomplete dropped | %d without household reading dropped\n",
			len(d.Records),
			d.InputRows,
			d.DroppedIncomplete,
			d.DroppedNoTarget,
		)
		fmt.Fprintf(&b, "Imputed from same-day means: %d temperature, %d conductivity\n", d.ImputedTemperature, d.ImputedConductivity)
		fmt.Fprintf(&b, "Average time between tapstand and household: %s\n", hoursAndMinutes(d.TransitVariability))
	}
	if f.DroppedRows > 0 {
		fmt.Fprintf(&b, "Excluded from training (undefined values): %d\n", f.DroppedRows)
	}

	if len(f.Input.Columns) > 0 {
		b.WriteString("\nInputs\n")
		for _, c := range f.Input.Columns {
			fmt.Fprintf(
				&b,
				"- %s: n=%d mean %s median %s range %s to %s\n",
				c.Column,
				c.Count,
				formatValue(c.Mean),
				formatValue(c.Median),
				formatValue(c.Min),
				formatValue(c.Max),
			)
		}
	}

	if f.Members == 0 {
		return strings.TrimSpace(b.String())
	}

	b.WriteString("\nEnsemble\n")
	fmt.Fprintf(&b, "- %d members, %d hidden units, %d epochs\n", f.Members, f.HiddenUnits, f.Epochs)
	fmt.Fprintf(&b, "- Median training MSE %s, R² %s\n", formatValue(f.Summary.TrainMSE), formatValue(f.Summary.TrainR2))
	fmt.Fprintf(&b, "- Median validation MSE %s, R² %s\n", formatValue(f.Summary.ValMSE), formatValue(f.Summary.ValR2))
	if math.IsNaN(f.Summary.ValR2) {
		b.WriteString("- Validation R² is undefined for at least one member (too few or constant household readings in its split).\n")
	}

	return strings.TrimSpace(b.String())
}

// BuildPredictionNotes summarizes a result table. The first threshold is
// treated as the minimum acceptable household FRC.
func BuildPredictionNotes(sourceFile string, table export.ResultTable) string {
	var b strings.Builder

	b.WriteString("FRC Ensemble Prediction Notes\n")
	if sourceFile != "" {
		fmt.Fprintf(&b, "Input file: %s\n", sourceFile)
	}
	fmt.Fprintf(&b, "Records scored: %d\n", len(table.Predictions))
	if len(table.Predictions) == 0 || len(table.Thresholds) == 0 {
		return strings.TrimSpace(b.String())
	}

	undefined := 0
	meanProb := make([]float64, len(table.Thresholds))
	for _, p := range table.Predictions {
		if math.IsNaN(p.Median) {
			undefined++
		}
		for k, v := range p.Probabilities {
			meanProb[k] += v
		}
	}
	b.WriteString("\nExceedance\n")
	for k, th := range table.Thresholds {
		fmt.Fprintf(
			&b,
			"- Mean probability household FRC <= %s mg/L: %.2f\n",
			export.FormatThreshold(th),
			meanProb[k]/float64(len(table.Predictions)),
		)
	}
	if undefined > 0 {
		fmt.Fprintf(&b, "- %d records have undefined predictions (missing temperature or conductivity with no same-day reading).\n", undefined)
	}

	if frc, ok := lowestSafeUpstream(table, 0.05); ok {
		fmt.Fprintf(
			&b,
			"\nRecommendation\n- Lowest tapstand FRC in this table with at most 5%% of members at or below %s mg/L: %.2f mg/L\n",
			export.FormatThreshold(table.Thresholds[0]),
			frc,
		)
	}
	return strings.TrimSpace(b.String())
}

func lowestSafeUpstream(table export.ResultTable, maxRisk float64) (float64, bool) {
	best, found := math.Inf(1), false
	for _, p := range table.Predictions {
		if len(p.Inputs) == 0 || len(p.Probabilities) == 0 || math.IsNaN(p.Median) {
			continue
		}
		if p.Probabilities[0] <= maxRisk && p.Inputs[0] < best {
			best, found = p.Inputs[0], true
		}
	}
	return best, found
}

func hoursAndMinutes(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%d hours and %d minutes", h, m)
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}
