package export

import (
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/safewater/frcnet/dataset"
)

// Parquet column paths cannot carry the dotted probability_le_0.20 names, so
// thresholds and their probabilities are repeated columns aligned by position.
type resultParquetRow struct {
	UpstreamFRC      float64   `parquet:"name=upstream_frc, type=DOUBLE"`
	Temperature      float64   `parquet:"name=temperature, type=DOUBLE"`
	Conductivity     float64   `parquet:"name=conductivity, type=DOUBLE"`
	MedianPrediction float64   `parquet:"name=median_prediction, type=DOUBLE"`
	Thresholds       []float64 `parquet:"name=thresholds, type=DOUBLE, repetitiontype=REPEATED"`
	Probabilities    []float64 `parquet:"name=probabilities_le, type=DOUBLE, repetitiontype=REPEATED"`
	Members          []float64 `parquet:"name=member_predictions, type=DOUBLE, repetitiontype=REPEATED"`
}

type cleanedParquetRow struct {
	Date           string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	UpstreamTime   string  `parquet:"name=upstream_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	DownstreamTime string  `parquet:"name=downstream_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	UpstreamFRC    float64 `parquet:"name=upstream_frc, type=DOUBLE"`
	Temperature    float64 `parquet:"name=temperature, type=DOUBLE"`
	Conductivity   float64 `parquet:"name=conductivity, type=DOUBLE"`
	DownstreamFRC  float64 `parquet:"name=downstream_frc, type=DOUBLE"`
}

func writeResultsParquet(path string, table ResultTable) error {
	rows := make([]any, len(table.Predictions))
	for i, p := range table.Predictions {
		rows[i] = resultParquetRow{
			UpstreamFRC:      p.Inputs[0],
			Temperature:      p.Inputs[1],
			Conductivity:     p.Inputs[2],
			MedianPrediction: p.Median,
			Thresholds:       table.Thresholds,
			Probabilities:    p.Probabilities,
			Members:          p.Members,
		}
	}
	return writeParquet(path, new(resultParquetRow), rows)
}

func writeCleanedParquet(path string, records []dataset.Record) error {
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = cleanedParquetRow{
			Date:           r.Date,
			UpstreamTime:   r.UpstreamTime.Format(time.RFC3339),
			DownstreamTime: r.DownstreamTime.Format(time.RFC3339),
			UpstreamFRC:    r.UpstreamFRC,
			Temperature:    r.Temperature,
			Conductivity:   r.Conductivity,
			DownstreamFRC:  r.DownstreamFRC,
		}
	}
	return writeParquet(path, new(cleanedParquetRow), rows)
}

func writeParquet(path string, schema any, rows []any) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		_ = fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}
