package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frcnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ensemble:
  size: 12
  epochs: 8
prediction:
  thresholds: [0.1, 0.2]
output:
  format: parquet
`), 0o644))
	t.Setenv("FRCNET_ENSEMBLE_EPOCHS", "40")
	t.Setenv("FRCNET_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Ensemble.Size)
	assert.Equal(t, 40, cfg.Ensemble.Epochs)
	assert.Equal(t, 5, cfg.Ensemble.HiddenUnits)
	assert.Equal(t, []float64{0.1, 0.2}, cfg.Prediction.Thresholds)
	assert.Equal(t, "parquet", cfg.Output.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"size":       func(c *Config) { c.Ensemble.Size = 0 },
		"fraction":   func(c *Config) { c.Ensemble.TrainFraction = 1 },
		"thresholds": func(c *Config) { c.Prediction.Thresholds = []float64{0.3, 0.2} },
		"empty":      func(c *Config) { c.Prediction.Thresholds = nil },
		"format":     func(c *Config) { c.Output.Format = "json" },
		"workers":    func(c *Config) { c.Ensemble.Workers = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
		})
	}
}

func TestYAMLSnapshotRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Ensemble.Seed = 42
	cfg.Ensemble.Size = 3
	path := filepath.Join(t.TempDir(), "training_config.yaml")
	require.NoError(t, WriteYAML(path, cfg))

	back, err := ReadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *back)
}
