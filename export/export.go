// Package export writes prediction results, cleaned records and run
// metadata to disk.
//
// Output files of a prediction run:
//   - results.<csv|parquet|xlsx>
//   - predictions.jsonl (one object per record with every member's prediction)
//   - manifest.json
package export

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/safewater/frcnet/dataset"
)

// EnsureOutputDir creates path and refuses a non-empty directory unless overwrite is set.
func EnsureOutputDir(path string, overwrite bool) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read output directory: %w", err)
	}
	if len(entries) > 0 && !overwrite {
		return fmt.Errorf("output directory is not empty: %s (set overwrite=true to allow)", path)
	}
	return nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRunManifest starts a manifest for a run over sourcePath, hashing the
// source file when one is given.
func NewRunManifest(kind, sourcePath string) (RunManifest, error) {
	m := RunManifest{
		FormatVersion: RunFormatVersion,
		Kind:          kind,
		GeneratedAt:   time.Now().UTC(),
		Files:         map[string]string{},
	}
	if sourcePath == "" {
		return m, nil
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return m, fmt.Errorf("read source file: %w", err)
	}
	sum := sha256.Sum256(data)
	m.SourceFile = sourcePath
	m.SourceFileName = filepath.Base(sourcePath)
	m.SourceSHA256 = hex.EncodeToString(sum[:])
	m.SourceSizeBytes = int64(len(data))
	return m, nil
}

// WriteResults writes the result table in the given container.
func WriteResults(path string, format Format, table ResultTable) error {
	switch format {
	case FormatCSV:
		return writeCSV(path, table.Header(), resultCells(table))
	case FormatXLSX:
		return writeXLSX(path, "results", table.Header(), resultCells(table))
	case FormatParquet:
		return writeResultsParquet(path, table)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// CleanedHeader is the column order of the cleaned-records table.
var CleanedHeader = []string{
	"date", "upstream_time", "downstream_time",
	"upstream_frc", "temperature", "conductivity", "downstream_frc",
}

// WriteCleaned writes the records used for training or prediction.
func WriteCleaned(path string, format Format, records []dataset.Record) error {
	switch format {
	case FormatCSV:
		return writeCSV(path, CleanedHeader, cleanedCells(records))
	case FormatXLSX:
		return writeXLSX(path, "cleaned", CleanedHeader, cleanedCells(records))
	case FormatParquet:
		return writeCleanedParquet(path, records)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// WriteJSONL writes one JSON object per prediction: the result columns in
// header order followed by net_0..net_<N-1>. Undefined values are null.
func WriteJSONL(path string, table ResultTable) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	header := table.Header()
	buf := bufio.NewWriterSize(f, 1<<20)
	var line bytes.Buffer
	for i, p := range table.Predictions {
		line.Reset()
		line.WriteByte('{')
		for j, v := range table.Values(i) {
			writeField(&line, j > 0, header[j], v)
		}
		for m, v := range p.Members {
			writeField(&line, true, "net_"+strconv.Itoa(m), v)
		}
		line.WriteString("}\n")
		if _, err := buf.Write(line.Bytes()); err != nil {
			return err
		}
	}
	return buf.Flush()
}

func writeField(b *bytes.Buffer, comma bool, key string, v float64) {
	if comma {
		b.WriteByte(',')
	}
	b.WriteString(strconv.Quote(key))
	b.WriteByte(':')
	if math.IsNaN(v) || math.IsInf(v, 0) {
		b.WriteString("null")
		return
	}
	b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
}

func resultCells(table ResultTable) [][]any {
	rows := make([][]any, len(table.Predictions))
	for i := range table.Predictions {
		values := table.Values(i)
		row := make([]any, len(values))
		for j, v := range values {
			row[j] = v
		}
		rows[i] = row
	}
	return rows
}

func cleanedCells(records []dataset.Record) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.Date,
			r.UpstreamTime.Format(time.RFC3339),
			r.DownstreamTime.Format(time.RFC3339),
			r.UpstreamFRC,
			r.Temperature,
			r.Conductivity,
			r.DownstreamFRC,
		}
	}
	return rows
}
