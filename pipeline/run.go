// Package pipeline runs end-to-end training and prediction: it reads a field
// survey, trains or loads an ensemble and writes the output bundle.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	frcnet "github.com/safewater/frcnet"
	"github.com/safewater/frcnet/config"
	"github.com/safewater/frcnet/dataset"
	"github.com/safewater/frcnet/ensemble"
	"github.com/safewater/frcnet/export"
)

// Train cleans the dataset at opts.DataPath, trains an ensemble and writes:
//   - ensemble/ (manifest, architecture, network_weights, scaler)
//   - cleaned_records.<format>
//   - training_summary.json
//   - training_config.yaml
//   - training_notes.md
//   - manifest.json
func Train(ctx context.Context, opts TrainOptions) (*TrainResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(opts.DataPath) == "" {
		return nil, fmt.Errorf("data path is required")
	}
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	data, err := dataset.Load(opts.DataPath)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	if !data.HasTarget {
		return nil, fmt.Errorf("%w: no %s column for variant %s", dataset.ErrInsufficientData, data.Variant.DownstreamFRC, data.Variant.Name)
	}
	log.Info("dataset cleaned",
		zap.String("source", opts.DataPath),
		zap.String("variant", data.Variant.Name),
		zap.Int("input_rows", data.InputRows),
		zap.Int("records", len(data.Records)),
		zap.Duration("transit_variability", data.TransitVariability),
	)

	if err := export.EnsureOutputDir(opts.OutDir, cfg.Output.Overwrite); err != nil {
		return nil, err
	}
	manifest, err := export.NewRunManifest("training", opts.DataPath)
	if err != nil {
		return nil, err
	}

	trained, err := ensemble.Train(ctx, data, ensemble.Options{
		Size:          cfg.Ensemble.Size,
		Epochs:        cfg.Ensemble.Epochs,
		HiddenUnits:   cfg.Ensemble.HiddenUnits,
		TrainFraction: cfg.Ensemble.TrainFraction,
		LearningRate:  cfg.Ensemble.LearningRate,
		BatchSize:     cfg.Ensemble.BatchSize,
		Workers:       cfg.Ensemble.Workers,
		Seed:          cfg.Ensemble.Seed,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("train ensemble: %w", err)
	}

	ensembleDir := filepath.Join(opts.OutDir, "ensemble")
	saved, err := trained.Ensemble.Save(ensembleDir, ensemble.SaveOptions{
		Overwrite: cfg.Output.Overwrite,
		Summary:   &trained.Summary,
	})
	if err != nil {
		return nil, fmt.Errorf("save ensemble: %w", err)
	}
	manifest.SessionID = saved.SessionID
	manifest.Files["ensemble"] = filepath.Base(ensembleDir)

	cleanedPath := filepath.Join(opts.OutDir, "cleaned_records."+format.Extension())
	if err := export.WriteCleaned(cleanedPath, format, data.Records); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(cleanedPath), err)
	}
	manifest.Files["cleaned_records"] = filepath.Base(cleanedPath)

	input := dataset.Summarize(data)
	summary := TrainingSummaryFile{
		SessionID:            saved.SessionID,
		DatasetReport:        newDatasetReport(opts.DataPath, data, input),
		ExcludedFromTraining: trained.DroppedRows,
		Members:              trained.Ensemble.Size(),
		Epochs:               cfg.Ensemble.Epochs,
		HiddenUnits:          cfg.Ensemble.HiddenUnits,
		Summary:              trained.Summary,
		Runs:                 trained.Runs,
	}
	summaryPath := filepath.Join(opts.OutDir, "training_summary.json")
	if err := export.WriteJSON(summaryPath, summary); err != nil {
		return nil, fmt.Errorf("write training_summary.json: %w", err)
	}
	manifest.Files["training_summary"] = filepath.Base(summaryPath)

	configPath := filepath.Join(opts.OutDir, "training_config.yaml")
	if err := config.WriteYAML(configPath, cfg); err != nil {
		return nil, fmt.Errorf("write training_config.yaml: %w", err)
	}
	manifest.Files["training_config"] = filepath.Base(configPath)

	notes := frcnet.BuildTrainingNotes(frcnet.TrainingFacts{
		SourceFile:  filepath.Base(opts.DataPath),
		SessionID:   saved.SessionID,
		Data:        data,
		Input:       input,
		Members:     trained.Ensemble.Size(),
		Epochs:      cfg.Ensemble.Epochs,
		HiddenUnits: cfg.Ensemble.HiddenUnits,
		DroppedRows: trained.DroppedRows,
		Summary:     trained.Summary,
	})
	notesPath := filepath.Join(opts.OutDir, "training_notes.md")
	if err := writeNotes(notesPath, notes); err != nil {
		return nil, fmt.Errorf("write training_notes.md: %w", err)
	}
	manifest.Files["notes"] = filepath.Base(notesPath)

	manifestPath := filepath.Join(opts.OutDir, "manifest.json")
	if err := export.WriteJSON(manifestPath, manifest); err != nil {
		return nil, fmt.Errorf("write manifest.json: %w", err)
	}

	return &TrainResult{
		OutputDir:    opts.OutDir,
		EnsembleDir:  ensembleDir,
		ManifestPath: manifestPath,
		SummaryPath:  summaryPath,
		ConfigPath:   configPath,
		NotesPath:    notesPath,
		CleanedPath:  cleanedPath,
		SessionID:    saved.SessionID,
		Members:      trained.Ensemble.Size(),
		Summary:      trained.Summary,
	}, nil
}

// Predict loads the ensemble at opts.EnsembleDir, scores either the dataset
// at opts.DataPath or a scenario sweep, and writes:
//   - results.<format>
//   - predictions.jsonl
//   - cleaned_records.<format> (datasets only)
//   - prediction_notes.md
//   - manifest.json
func Predict(ctx context.Context, opts PredictOptions) (*PredictResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(opts.EnsembleDir) == "" {
		return nil, fmt.Errorf("ensemble directory is required")
	}
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	hasData := strings.TrimSpace(opts.DataPath) != ""
	if hasData == (opts.Scenario != nil) {
		return nil, fmt.Errorf("exactly one of data path and scenario is required")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ens, saved, err := ensemble.Load(opts.EnsembleDir)
	if err != nil {
		return nil, err
	}
	log.Info("ensemble loaded",
		zap.String("dir", opts.EnsembleDir),
		zap.String("session_id", saved.SessionID),
		zap.Int("members", ens.Size()),
	)

	var (
		rows [][]float64
		data *dataset.Cleaned
	)
	if hasData {
		data, err = dataset.Load(opts.DataPath)
		if err != nil {
			return nil, fmt.Errorf("load dataset: %w", err)
		}
		rows = data.Predictors()
	} else {
		rows = dataset.ScenarioGrid(opts.Scenario.Temperature, opts.Scenario.Conductivity)
	}

	started := time.Now()
	preds, err := ens.Predict(dataset.PredictorColumns, rows, cfg.Prediction.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	log.Info("records scored", zap.Int("records", len(preds)), zap.Duration("elapsed", time.Since(started)))
	table := export.ResultTable{Thresholds: cfg.Prediction.Thresholds, Predictions: preds}

	if err := export.EnsureOutputDir(opts.OutDir, cfg.Output.Overwrite); err != nil {
		return nil, err
	}
	manifest, err := export.NewRunManifest("prediction", opts.DataPath)
	if err != nil {
		return nil, err
	}
	manifest.SessionID = saved.SessionID
	if !hasData {
		manifest.Notes = append(manifest.Notes, fmt.Sprintf(
			"scenario sweep of upstream FRC %.2f to %.2f mg/L at %.2f C and %.2f uS/cm",
			dataset.ScenarioMinFRC, dataset.ScenarioMaxFRC, opts.Scenario.Temperature, opts.Scenario.Conductivity,
		))
	}

	resultsPath := filepath.Join(opts.OutDir, "results."+format.Extension())
	if err := export.WriteResults(resultsPath, format, table); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(resultsPath), err)
	}
	manifest.Files["results"] = filepath.Base(resultsPath)

	predictionsPath := filepath.Join(opts.OutDir, "predictions.jsonl")
	if err := export.WriteJSONL(predictionsPath, table); err != nil {
		return nil, fmt.Errorf("write predictions.jsonl: %w", err)
	}
	manifest.Files["predictions"] = filepath.Base(predictionsPath)

	cleanedPath := ""
	if data != nil {
		cleanedPath = filepath.Join(opts.OutDir, "cleaned_records."+format.Extension())
		if err := export.WriteCleaned(cleanedPath, format, data.Records); err != nil {
			return nil, fmt.Errorf("write %s: %w", filepath.Base(cleanedPath), err)
		}
		manifest.Files["cleaned_records"] = filepath.Base(cleanedPath)
	}

	source := "scenario"
	if hasData {
		source = filepath.Base(opts.DataPath)
	}
	notesPath := filepath.Join(opts.OutDir, "prediction_notes.md")
	if err := writeNotes(notesPath, frcnet.BuildPredictionNotes(source, table)); err != nil {
		return nil, fmt.Errorf("write prediction_notes.md: %w", err)
	}
	manifest.Files["notes"] = filepath.Base(notesPath)

	manifestPath := filepath.Join(opts.OutDir, "manifest.json")
	if err := export.WriteJSON(manifestPath, manifest); err != nil {
		return nil, fmt.Errorf("write manifest.json: %w", err)
	}

	return &PredictResult{
		OutputDir:       opts.OutDir,
		ResultsPath:     resultsPath,
		PredictionsPath: predictionsPath,
		ManifestPath:    manifestPath,
		NotesPath:       notesPath,
		CleanedPath:     cleanedPath,
		Records:         len(preds),
		Table:           table,
	}, nil
}

// Describe cleans the dataset at path and reports on it without training.
func Describe(path string) (*DatasetReport, error) {
	data, err := dataset.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	input := dataset.Summarize(data)
	report := newDatasetReport(path, data, input)
	report.Notes = frcnet.BuildTrainingNotes(frcnet.TrainingFacts{
		SourceFile: filepath.Base(path),
		Data:       data,
		Input:      input,
	})
	return &report, nil
}

func writeNotes(path, notes string) error {
	return os.WriteFile(path, []byte(notes+"\n"), 0o644)
}
