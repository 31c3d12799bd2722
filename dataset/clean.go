package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const minuteLayout = "2006-01-02T15:04"

// PredictorColumns are the logical predictor names in model input order.
var PredictorColumns = []string{"upstream_frc", "temperature", "conductivity"}

// TargetColumn is the logical name of the predicted downstream reading.
const TargetColumn = "downstream_frc"

// Record is one cleaned observation. Temperature and Conductivity are NaN
// when they were missing and no same-day observation existed to impute from.
// DownstreamFRC is NaN for tables without a target column.
type Record struct {
	UpstreamFRC    float64   `json:"upstream_frc"`
	Temperature    float64   `json:"temperature"`
	Conductivity   float64   `json:"conductivity"`
	DownstreamFRC  float64   `json:"downstream_frc"`
	UpstreamTime   time.Time `json:"upstream_time"`
	DownstreamTime time.Time `json:"downstream_time"`
	Date           string    `json:"date"`
}

// Predictors returns the model inputs in PredictorColumns order.
func (r Record) Predictors() []float64 {
	return []float64{r.UpstreamFRC, r.Temperature, r.Conductivity}
}

// Cleaned is a dataset after dropping incomplete rows and imputing gaps.
type Cleaned struct {
	Variant   SchemaVariant `json:"variant"`
	Records   []Record      `json:"-"`
	HasTarget bool          `json:"has_target"`

	// TransitVariability is the mean absolute change between consecutive
	// transit durations, truncated to the minute.
	TransitVariability time.Duration `json:"transit_variability"`

	ObservedMedianTemperature  float64 `json:"observed_median_temperature"`
	ObservedMedianConductivity float64 `json:"observed_median_conductivity"`

	InputRows           int `json:"input_rows"`
	DroppedIncomplete   int `json:"dropped_incomplete"`
	DroppedNoTarget     int `json:"dropped_no_target"`
	ImputedTemperature  int `json:"imputed_temperature"`
	ImputedConductivity int `json:"imputed_conductivity"`
}

// Predictors returns the predictor matrix, one row per record.
func (c *Cleaned) Predictors() [][]float64 {
	out := make([][]float64, len(c.Records))
	for i, r := range c.Records {
		out[i] = r.Predictors()
	}
	return out
}

// Targets returns the downstream FRC column.
func (c *Cleaned) Targets() []float64 {
	out := make([]float64, len(c.Records))
	for i, r := range c.Records {
		out[i] = r.DownstreamFRC
	}
	return out
}

// Load reads, resolves and cleans the dataset at path.
func Load(path string) (*Cleaned, error) {
	t, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := ResolveSchema(t.Columns)
	if err != nil {
		return nil, err
	}
	return Clean(t, v)
}

type pendingRow struct {
	rec    Record
	temp   *float64
	cond   *float64
	target *float64
}

// Clean drops rows missing the upstream reading or either timestamp,
// computes the transit variability statistic, fills missing temperature and
// conductivity with same-day means and finally drops rows without a target.
// Tables that lack the target column entirely are cleaned for inference and
// keep every row.
func Clean(t *Table, v SchemaVariant) (*Cleaned, error) {
	for _, col := range []string{v.UpstreamFRC, v.Temperature, v.Conductivity, UpstreamTimeField, DownstreamTimeField} {
		if !t.Has(col) {
			return nil, fmt.Errorf("%w: variant %s requires column %q", ErrSchemaNotRecognized, v.Name, col)
		}
	}
	out := &Cleaned{
		Variant:   v,
		HasTarget: t.Has(v.DownstreamFRC),
		InputRows: len(t.Rows),
	}

	rows := make([]pendingRow, 0, len(t.Rows))
	for i := range t.Rows {
		frc, err := parseOptionalFloat(t.Cell(i, v.UpstreamFRC))
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i+1, v.UpstreamFRC, err)
		}
		upRaw := t.Cell(i, UpstreamTimeField)
		downRaw := t.Cell(i, DownstreamTimeField)
		if frc == nil || isMissing(upRaw) || isMissing(downRaw) {
			out.DroppedIncomplete++
			continue
		}

		up, err := parseMinute(upRaw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i+1, UpstreamTimeField, err)
		}
		down, err := parseMinute(downRaw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i+1, DownstreamTimeField, err)
		}

		p := pendingRow{rec: Record{
			UpstreamFRC:    *frc,
			UpstreamTime:   up,
			DownstreamTime: down,
			Date:           up.Format("2006-01-02"),
		}}
		if p.temp, err = parseOptionalFloat(t.Cell(i, v.Temperature)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i+1, v.Temperature, err)
		}
		if p.cond, err = parseOptionalFloat(t.Cell(i, v.Conductivity)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i+1, v.Conductivity, err)
		}
		if out.HasTarget {
			if p.target, err = parseOptionalFloat(t.Cell(i, v.DownstreamFRC)); err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", i+1, v.DownstreamFRC, err)
			}
		}
		rows = append(rows, p)
	}

	durations := make([]time.Duration, len(rows))
	for i, p := range rows {
		durations[i] = p.rec.DownstreamTime.Sub(p.rec.UpstreamTime)
	}
	variability, err := TransitVariability(durations)
	if err != nil {
		return nil, err
	}
	out.TransitVariability = variability

	dates := make([]string, len(rows))
	temps := make([]*float64, len(rows))
	conds := make([]*float64, len(rows))
	for i, p := range rows {
		dates[i] = p.rec.Date
		temps[i] = p.temp
		conds[i] = p.cond
	}
	out.ObservedMedianTemperature = medianObserved(temps)
	out.ObservedMedianConductivity = medianObserved(conds)

	var filledTemps, filledConds []float64
	filledTemps, out.ImputedTemperature = ImputeSameDay(dates, temps)
	filledConds, out.ImputedConductivity = ImputeSameDay(dates, conds)

	out.Records = make([]Record, 0, len(rows))
	for i, p := range rows {
		rec := p.rec
		rec.Temperature = filledTemps[i]
		rec.Conductivity = filledConds[i]
		rec.DownstreamFRC = math.NaN()
		if out.HasTarget {
			if p.target == nil {
				out.DroppedNoTarget++
				continue
			}
			rec.DownstreamFRC = *p.target
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// TransitVariability averages the absolute differences between consecutive
// durations in row order and truncates the result to whole minutes.
func TransitVariability(durations []time.Duration) (time.Duration, error) {
	if len(durations) < 2 {
		return 0, fmt.Errorf("%w: %d usable rows, need at least 2", ErrInsufficientData, len(durations))
	}
	var sum time.Duration
	for i := 1; i < len(durations); i++ {
		d := durations[i] - durations[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return (sum / time.Duration(len(durations)-1)).Truncate(time.Minute), nil
}

// ImputeSameDay fills each missing value with the mean of the observed values
// sharing its date key. A date with no observed values yields NaN. It returns
// the filled column and the number of filled cells.
func ImputeSameDay(dates []string, values []*float64) ([]float64, int) {
	type acc struct {
		sum float64
		n   int
	}
	byDate := make(map[string]*acc)
	for i, v := range values {
		if v == nil {
			continue
		}
		a, ok := byDate[dates[i]]
		if !ok {
			a = &acc{}
			byDate[dates[i]] = a
		}
		a.sum += *v
		a.n++
	}

	out := make([]float64, len(values))
	filled := 0
	for i, v := range values {
		if v != nil {
			out[i] = *v
			continue
		}
		filled++
		if a, ok := byDate[dates[i]]; ok && a.n > 0 {
			out[i] = a.sum / float64(a.n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out, filled
}

// parseMinute parses the YYYY-MM-DDTHH:MM prefix of a timestamp, discarding
// seconds and any zone suffix. A space separator is accepted in place of T.
func parseMinute(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if len(s) < len(minuteLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
	}
	b := []byte(s[:len(minuteLayout)])
	if b[10] == ' ' {
		b[10] = 'T'
	}
	ts, err := time.Parse(minuteLayout, string(b))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
	}
	return ts, nil
}

func isMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "n/a", "nan", "null", "none":
		return true
	}
	return false
}

func parseOptionalFloat(s string) (*float64, error) {
	if isMissing(s) {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(v) {
		return nil, nil
	}
	return &v, nil
}

func medianObserved(values []*float64) float64 {
	obs := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil {
			obs = append(obs, *v)
		}
	}
	return median(obs)
}
