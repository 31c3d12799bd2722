package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/safewater/frcnet/ensemble"
)

const (
	// RunFormatVersion identifies the layout of training and prediction output bundles.
	RunFormatVersion = "frcnet_run_v1"
)

// Format is a tabular container.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
)

// ParseFormat accepts csv, parquet or xlsx in any case; empty means csv.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatParquet, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q (expected csv|parquet|xlsx)", s)
	}
}

// Extension is the file extension without the dot.
func (f Format) Extension() string { return string(f) }

// ResultTable is the terminal output of prediction: one row per input record.
type ResultTable struct {
	Thresholds  []float64
	Predictions []ensemble.Prediction
}

// ProbabilityColumn names the exceedance column for a threshold, e.g.
// probability_le_0.20. Distinct thresholds always get distinct names.
func ProbabilityColumn(threshold float64) string {
	return "probability_le_" + FormatThreshold(threshold)
}

// FormatThreshold prints a threshold with at least two decimals and as many
// more as it takes to round-trip, so 0.2 is "0.20" and 0.201 is "0.201".
func FormatThreshold(threshold float64) string {
	s := strconv.FormatFloat(threshold, 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s + ".00"
	}
	if decimals := len(s) - dot - 1; decimals < 2 {
		s += strings.Repeat("0", 2-decimals)
	}
	return s
}

// Header is the result table's column order.
func (t ResultTable) Header() []string {
	h := []string{"upstream_frc", "temperature", "conductivity", "median_prediction"}
	for _, th := range t.Thresholds {
		h = append(h, ProbabilityColumn(th))
	}
	return h
}

// Values returns row i in Header order.
func (t ResultTable) Values(i int) []float64 {
	p := t.Predictions[i]
	out := make([]float64, 0, 4+len(p.Probabilities))
	out = append(out, p.Inputs...)
	out = append(out, p.Median)
	return append(out, p.Probabilities...)
}

// RunManifest records what a training or prediction run read and wrote.
type RunManifest struct {
	FormatVersion   string            `json:"format_version"`
	Kind            string            `json:"kind"`
	GeneratedAt     time.Time         `json:"generated_at"`
	SessionID       string            `json:"session_id,omitempty"`
	SourceFile      string            `json:"source_file,omitempty"`
	SourceFileName  string            `json:"source_file_name,omitempty"`
	SourceSHA256    string            `json:"source_sha256,omitempty"`
	SourceSizeBytes int64             `json:"source_size_bytes,omitempty"`
	Files           map[string]string `json:"files"`
	Notes           []string          `json:"notes,omitempty"`
}
