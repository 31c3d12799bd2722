package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/safewater/frcnet/config"
	"github.com/safewater/frcnet/logger"
	"github.com/safewater/frcnet/pipeline"
)

func main() {
	var (
		dataPath   = flag.String("data", "", "Path to field survey (.csv or .xlsx)")
		outDir     = flag.String("out", "", "Output directory")
		configPath = flag.String("config", "", "Optional YAML config file")
		members    = flag.Int("members", 0, "Ensemble size (overrides config)")
		epochs     = flag.Int("epochs", 0, "Training epochs per member (overrides config)")
		hidden     = flag.Int("hidden", 0, "Hidden units per member (overrides config)")
		seed       = flag.Uint64("seed", 0, "Seed for reproducible splits and weights (overrides config)")
		workers    = flag.Int("workers", -1, "Concurrent members, 0 = all CPUs (overrides config)")
		format     = flag.String("format", "", "Cleaned records format: csv|parquet|xlsx (overrides config)")
		overwrite  = flag.Bool("overwrite", true, "Allow writing into non-empty output directories")
		logLevel   = flag.String("log-level", "", "debug|info|warn|error (overrides config)")
		metricsOut = flag.String("metrics-out", "", "Write Prometheus metrics to this textfile when done")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --data survey.xlsx --out outdir [--config frcnet.yaml] [--members 100] [--epochs 30]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(*dataPath) == "" || strings.TrimSpace(*outDir) == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "members":
			cfg.Ensemble.Size = *members
		case "epochs":
			cfg.Ensemble.Epochs = *epochs
		case "hidden":
			cfg.Ensemble.HiddenUnits = *hidden
		case "seed":
			cfg.Ensemble.Seed = *seed
		case "workers":
			cfg.Ensemble.Workers = *workers
		case "format":
			cfg.Output.Format = *format
		case "overwrite":
			cfg.Output.Overwrite = *overwrite
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	log := logger.New(cfg.Log.Level)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := pipeline.Train(ctx, pipeline.TrainOptions{
		DataPath: *dataPath,
		OutDir:   *outDir,
		Config:   *cfg,
		Logger:   log,
	})
	if *metricsOut != "" {
		if werr := prometheus.WriteToTextfile(*metricsOut, prometheus.DefaultGatherer); werr != nil {
			fmt.Fprintf(os.Stderr, "write metrics: %v\n", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "frc_train failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("frc_train complete\n")
	fmt.Printf("Output dir:          %s\n", result.OutputDir)
	fmt.Printf("Session:             %s\n", result.SessionID)
	fmt.Printf("Members:             %d\n", result.Members)
	fmt.Printf("ensemble:            %s\n", result.EnsembleDir)
	fmt.Printf("training summary:    %s\n", result.SummaryPath)
	fmt.Printf("training config:     %s\n", result.ConfigPath)
	fmt.Printf("cleaned records:     %s\n", result.CleanedPath)
	fmt.Printf("notes:               %s\n", result.NotesPath)
	fmt.Printf("manifest.json:       %s\n", result.ManifestPath)
}
