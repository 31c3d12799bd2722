package pipeline

import (
	"math"

	"go.uber.org/zap"

	"github.com/safewater/frcnet/config"
	"github.com/safewater/frcnet/dataset"
	"github.com/safewater/frcnet/ensemble"
	"github.com/safewater/frcnet/export"
)

// TrainOptions configures a training run.
type TrainOptions struct {
	DataPath string
	OutDir   string
	Config   config.Config
	Logger   *zap.Logger
}

// TrainResult returns generated output paths.
type TrainResult struct {
	OutputDir    string `json:"output_dir"`
	EnsembleDir  string `json:"ensemble_dir"`
	ManifestPath string `json:"manifest_path"`
	SummaryPath  string `json:"summary_path"`
	ConfigPath   string `json:"config_path"`
	NotesPath    string `json:"notes_path"`
	CleanedPath  string `json:"cleaned_path"`
	SessionID    string `json:"session_id"`
	Members      int    `json:"members"`

	Summary ensemble.Summary `json:"-"`
}

// Scenario fixes temperature and conductivity for a sweep over upstream FRC.
type Scenario struct {
	Temperature  float64
	Conductivity float64
}

// PredictOptions configures a prediction run. Exactly one of DataPath and
// Scenario must be set.
type PredictOptions struct {
	EnsembleDir string
	DataPath    string
	Scenario    *Scenario
	OutDir      string
	Config      config.Config
	Logger      *zap.Logger
}

// PredictResult returns generated output paths.
type PredictResult struct {
	OutputDir       string `json:"output_dir"`
	ResultsPath     string `json:"results_path"`
	PredictionsPath string `json:"predictions_path"`
	ManifestPath    string `json:"manifest_path"`
	NotesPath       string `json:"notes_path"`
	CleanedPath     string `json:"cleaned_path,omitempty"`
	Records         int    `json:"records"`

	Table export.ResultTable `json:"-"`
}

// DatasetReport describes a cleaned dataset without undefined values.
type DatasetReport struct {
	SourceFile                 string          `json:"source_file"`
	SchemaVariant              string          `json:"schema_variant"`
	HasTarget                  bool            `json:"has_target"`
	InputRows                  int             `json:"input_rows"`
	Records                    int             `json:"records"`
	DroppedIncomplete          int             `json:"dropped_incomplete"`
	DroppedNoTarget            int             `json:"dropped_no_target"`
	ImputedTemperature         int             `json:"imputed_temperature"`
	ImputedConductivity        int             `json:"imputed_conductivity"`
	TransitVariabilityMinutes  float64         `json:"transit_variability_minutes"`
	ObservedMedianTemperature  *float64        `json:"observed_median_temperature,omitempty"`
	ObservedMedianConductivity *float64        `json:"observed_median_conductivity,omitempty"`
	Inputs                     []ColumnSummary `json:"inputs"`
	Notes                      string          `json:"notes,omitempty"`
}

// TrainingSummaryFile is written as training_summary.json.
type TrainingSummaryFile struct {
	SessionID string `json:"session_id"`
	DatasetReport
	ExcludedFromTraining int                   `json:"excluded_from_training"`
	Members              int                   `json:"members"`
	Epochs               int                   `json:"epochs"`
	HiddenUnits          int                   `json:"hidden_units"`
	Summary              ensemble.Summary      `json:"summary"`
	Runs                 []ensemble.RunMetrics `json:"runs"`
}

func newDatasetReport(source string, data *dataset.Cleaned, input dataset.InputSummary) DatasetReport {
	return DatasetReport{
		SourceFile:                 source,
		SchemaVariant:              data.Variant.Name,
		HasTarget:                  data.HasTarget,
		InputRows:                  data.InputRows,
		Records:                    len(data.Records),
		DroppedIncomplete:          data.DroppedIncomplete,
		DroppedNoTarget:            data.DroppedNoTarget,
		ImputedTemperature:         data.ImputedTemperature,
		ImputedConductivity:        data.ImputedConductivity,
		TransitVariabilityMinutes:  data.TransitVariability.Minutes(),
		ObservedMedianTemperature:  floatPtr(data.ObservedMedianTemperature),
		ObservedMedianConductivity: floatPtr(data.ObservedMedianConductivity),
		Inputs:                     columnSummaries(input),
	}
}

// ColumnSummary is dataset.ColumnStats with undefined values omitted.
type ColumnSummary struct {
	Column string   `json:"column"`
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean,omitempty"`
	Median *float64 `json:"median,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

func columnSummaries(in dataset.InputSummary) []ColumnSummary {
	out := make([]ColumnSummary, 0, len(in.Columns))
	for _, c := range in.Columns {
		out = append(out, ColumnSummary{
			Column: c.Column,
			Count:  c.Count,
			Mean:   floatPtr(c.Mean),
			Median: floatPtr(c.Median),
			Min:    floatPtr(c.Min),
			Max:    floatPtr(c.Max),
		})
	}
	return out
}

func floatPtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	out := v
	return &out
}
