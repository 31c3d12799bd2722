// Package config loads ensemble training and prediction settings from YAML
// files and FRCNET_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// EnsembleConfig controls the training session.
type EnsembleConfig struct {
	Size          int     `mapstructure:"size" yaml:"size"`
	Epochs        int     `mapstructure:"epochs" yaml:"epochs"`
	HiddenUnits   int     `mapstructure:"hidden_units" yaml:"hidden_units"`
	TrainFraction float64 `mapstructure:"train_fraction" yaml:"train_fraction"`
	LearningRate  float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	BatchSize     int     `mapstructure:"batch_size" yaml:"batch_size"`
	// Workers bounds parallel member training; 0 uses GOMAXPROCS.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Seed makes splits and initial weights reproducible; 0 leaves them unseeded.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
}

// PredictionConfig controls aggregation.
type PredictionConfig struct {
	Thresholds []float64 `mapstructure:"thresholds" yaml:"thresholds"`
}

// OutputConfig controls written artifacts.
type OutputConfig struct {
	Format    string `mapstructure:"format" yaml:"format"`
	Overwrite bool   `mapstructure:"overwrite" yaml:"overwrite"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Config is the full configuration surface.
type Config struct {
	Ensemble   EnsembleConfig   `mapstructure:"ensemble" yaml:"ensemble"`
	Prediction PredictionConfig `mapstructure:"prediction" yaml:"prediction"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Ensemble: EnsembleConfig{
			Size:          100,
			Epochs:        30,
			HiddenUnits:   5,
			TrainFraction: 0.8,
			LearningRate:  0.001,
			BatchSize:     32,
		},
		Prediction: PredictionConfig{Thresholds: []float64{0.20, 0.25, 0.30}},
		Output:     OutputConfig{Format: "csv", Overwrite: true},
		Log:        LogConfig{Level: "info"},
	}
}

// Load merges the given YAML files in order over the defaults, then applies
// FRCNET_* environment overrides (e.g. FRCNET_ENSEMBLE_SIZE) and validates.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FRCNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("ensemble.size", d.Ensemble.Size)
	v.SetDefault("ensemble.epochs", d.Ensemble.Epochs)
	v.SetDefault("ensemble.hidden_units", d.Ensemble.HiddenUnits)
	v.SetDefault("ensemble.train_fraction", d.Ensemble.TrainFraction)
	v.SetDefault("ensemble.learning_rate", d.Ensemble.LearningRate)
	v.SetDefault("ensemble.batch_size", d.Ensemble.BatchSize)
	v.SetDefault("ensemble.workers", d.Ensemble.Workers)
	v.SetDefault("ensemble.seed", d.Ensemble.Seed)
	v.SetDefault("prediction.thresholds", d.Prediction.Thresholds)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.overwrite", d.Output.Overwrite)
	v.SetDefault("log.level", d.Log.Level)
}

// Validate rejects settings the training and prediction code cannot honor.
func (c Config) Validate() error {
	e := c.Ensemble
	switch {
	case e.Size < 1:
		return fmt.Errorf("%w: ensemble.size must be >= 1, got %d", ErrInvalidConfig, e.Size)
	case e.Epochs < 1:
		return fmt.Errorf("%w: ensemble.epochs must be >= 1, got %d", ErrInvalidConfig, e.Epochs)
	case e.HiddenUnits < 1:
		return fmt.Errorf("%w: ensemble.hidden_units must be >= 1, got %d", ErrInvalidConfig, e.HiddenUnits)
	case e.TrainFraction <= 0 || e.TrainFraction >= 1:
		return fmt.Errorf("%w: ensemble.train_fraction must be in (0,1), got %g", ErrInvalidConfig, e.TrainFraction)
	case e.LearningRate <= 0:
		return fmt.Errorf("%w: ensemble.learning_rate must be > 0, got %g", ErrInvalidConfig, e.LearningRate)
	case e.BatchSize < 1:
		return fmt.Errorf("%w: ensemble.batch_size must be >= 1, got %d", ErrInvalidConfig, e.BatchSize)
	case e.Workers < 0:
		return fmt.Errorf("%w: ensemble.workers must be >= 0, got %d", ErrInvalidConfig, e.Workers)
	}

	th := c.Prediction.Thresholds
	if len(th) == 0 {
		return fmt.Errorf("%w: prediction.thresholds is empty", ErrInvalidConfig)
	}
	for i := 1; i < len(th); i++ {
		if th[i] <= th[i-1] {
			return fmt.Errorf("%w: prediction.thresholds must be strictly ascending", ErrInvalidConfig)
		}
	}

	switch strings.ToLower(c.Output.Format) {
	case "csv", "parquet", "xlsx":
	default:
		return fmt.Errorf("%w: unsupported output.format %q (expected csv|parquet|xlsx)", ErrInvalidConfig, c.Output.Format)
	}
	return nil
}

// WriteYAML snapshots the effective configuration.
func WriteYAML(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadYAML loads a snapshot written by WriteYAML without env overrides.
func ReadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
