package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/safewater/frcnet/config"
	"github.com/safewater/frcnet/logger"
	"github.com/safewater/frcnet/pipeline"
)

func main() {
	var (
		ensembleDir  = flag.String("ensemble", "", "Trained ensemble directory (frc_train's <out>/ensemble)")
		dataPath     = flag.String("data", "", "Survey to score (.csv or .xlsx); household readings are optional")
		scenario     = flag.Bool("scenario", false, "Score an upstream FRC sweep at fixed --temp and --cond instead of --data")
		temperature  = flag.Float64("temp", 25, "Water temperature for --scenario (C)")
		conductivity = flag.Float64("cond", 300, "Electrical conductivity for --scenario (uS/cm)")
		outDir       = flag.String("out", "", "Output directory")
		configPath   = flag.String("config", "", "Optional YAML config file")
		thresholds   = flag.String("thresholds", "", "Comma-separated household FRC thresholds (overrides config)")
		format       = flag.String("format", "", "Results format: csv|parquet|xlsx (overrides config)")
		overwrite    = flag.Bool("overwrite", true, "Allow writing into non-empty output directories")
		logLevel     = flag.String("log-level", "", "debug|info|warn|error (overrides config)")
		metricsOut   = flag.String("metrics-out", "", "Write Prometheus metrics to this textfile when done")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --ensemble dir --out outdir (--data survey.csv | --scenario --temp 25 --cond 300)\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(*ensembleDir) == "" || strings.TrimSpace(*outDir) == "" {
		flag.Usage()
		os.Exit(2)
	}
	if (*dataPath == "") == !*scenario {
		fmt.Fprintln(os.Stderr, "exactly one of --data and --scenario is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "thresholds":
			cfg.Prediction.Thresholds, flagErr = parseThresholds(*thresholds)
		case "format":
			cfg.Output.Format = *format
		case "overwrite":
			cfg.Output.Overwrite = *overwrite
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	if flagErr != nil {
		fmt.Fprintf(os.Stderr, "--thresholds: %v\n", flagErr)
		os.Exit(2)
	}

	log := logger.New(cfg.Log.Level)
	defer log.Sync()

	opts := pipeline.PredictOptions{
		EnsembleDir: *ensembleDir,
		DataPath:    *dataPath,
		OutDir:      *outDir,
		Config:      *cfg,
		Logger:      log,
	}
	if *scenario {
		opts.Scenario = &pipeline.Scenario{Temperature: *temperature, Conductivity: *conductivity}
	}

	result, err := pipeline.Predict(context.Background(), opts)
	if *metricsOut != "" {
		if werr := prometheus.WriteToTextfile(*metricsOut, prometheus.DefaultGatherer); werr != nil {
			fmt.Fprintf(os.Stderr, "write metrics: %v\n", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "frc_predict failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("frc_predict complete\n")
	fmt.Printf("Output dir:          %s\n", result.OutputDir)
	fmt.Printf("Records:             %d\n", result.Records)
	fmt.Printf("results:             %s\n", result.ResultsPath)
	fmt.Printf("predictions.jsonl:   %s\n", result.PredictionsPath)
	if result.CleanedPath != "" {
		fmt.Printf("cleaned records:     %s\n", result.CleanedPath)
	}
	fmt.Printf("notes:               %s\n", result.NotesPath)
	fmt.Printf("manifest.json:       %s\n", result.ManifestPath)
}

func parseThresholds(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
