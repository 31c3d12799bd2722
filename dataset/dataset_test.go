package dataset

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const sampleCSV = `ts_datetime,hh_datetime,ts_frc,ts_wattemp,ts_cond,hh_frc
2021-03-01T08:00:00,2021-03-01T10:00:00,0.5,25,300,0.1
2021-03-01T09:15,2021-03-01T12:15,0.6,,310,0.15
2021-03-02T08:00,2021-03-02T09:30,0.9,28,,0.4
2021-03-02T11:00,2021-03-02T13:00,1.1,30,420,
,2021-03-03T09:00,1.0,27,400,0.3
2021-03-03T07:00,2021-03-03T08:00,,27,400,0.3
`

func mustTable(t *testing.T, body string) *Table {
	t.Helper()
	tbl, err := ReadCSV(strings.NewReader(body))
	require.NoError(t, err)
	return tbl
}

func TestResolveSchemaPriority(t *testing.T) {
	v, err := ResolveSchema([]string{"ts_frc1", "se1_frc", "ts_frc"})
	require.NoError(t, err)
	assert.Equal(t, VariantSE, v)

	v, err = ResolveSchema([]string{"ts_frc", "ts_frc1"})
	require.NoError(t, err)
	assert.Equal(t, VariantTS1, v)

	v, err = ResolveSchema([]string{" ts_frc "})
	require.NoError(t, err)
	assert.Equal(t, VariantTS, v)
}

func TestResolveSchemaNotRecognized(t *testing.T) {
	_, err := ResolveSchema([]string{"frc", "temperature"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaNotRecognized))
}

func TestCleanDropsAndImputes(t *testing.T) {
	tbl := mustTable(t, sampleCSV)
	v, err := ResolveSchema(tbl.Columns)
	require.NoError(t, err)

	c, err := Clean(tbl, v)
	require.NoError(t, err)

	assert.Equal(t, 6, c.InputRows)
	assert.Equal(t, 2, c.DroppedIncomplete)
	assert.Equal(t, 1, c.DroppedNoTarget)
	assert.Equal(t, 1, c.ImputedTemperature)
	assert.Equal(t, 1, c.ImputedConductivity)
	require.Len(t, c.Records, 3)

	assert.InDelta(t, 25.0, c.Records[1].Temperature, 1e-12)
	assert.Equal(t, "2021-03-01", c.Records[1].Date)
	// The row without a target still contributes to its day's mean.
	assert.InDelta(t, 420.0, c.Records[2].Conductivity, 1e-12)

	for _, r := range c.Records {
		for _, p := range r.Predictors() {
			assert.False(t, math.IsNaN(p))
		}
		assert.False(t, math.IsNaN(r.DownstreamFRC))
	}
	assert.Equal(t, 0, c.Records[0].UpstreamTime.Second())
}

func TestCleanTransitVariability(t *testing.T) {
	tbl := mustTable(t, sampleCSV)
	c, err := Clean(tbl, VariantTS)
	require.NoError(t, err)
	// durations 120, 180, 90, 120 minutes -> |60|+|90|+|30| / 3 = 60 minutes.
	assert.Equal(t, time.Hour, c.TransitVariability)
}

func TestTransitVariabilityTruncatesToMinute(t *testing.T) {
	got, err := TransitVariability([]time.Duration{0, time.Minute, 0, 0})
	require.NoError(t, err)
	// 2 minutes over 3 gaps = 40s, truncated.
	assert.Equal(t, time.Duration(0), got)

	_, err = TransitVariability([]time.Duration{time.Hour})
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestCleanInsufficientData(t *testing.T) {
	tbl := mustTable(t, `ts_datetime,hh_datetime,ts_frc,ts_wattemp,ts_cond,hh_frc
2021-03-01T08:00,2021-03-01T10:00,0.5,25,300,0.1
2021-03-01T08:00,,0.5,25,300,0.1
`)
	_, err := Clean(tbl, VariantTS)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestCleanMalformedTimestamp(t *testing.T) {
	tbl := mustTable(t, `ts_datetime,hh_datetime,ts_frc,ts_wattemp,ts_cond,hh_frc
03/01/2021 08:00,2021-03-01T10:00,0.5,25,300,0.1
2021-03-01T08:00,2021-03-01T10:00,0.5,25,300,0.1
`)
	_, err := Clean(tbl, VariantTS)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedTimestamp))
}

func TestCleanMissingColumn(t *testing.T) {
	tbl := mustTable(t, `ts_datetime,hh_datetime,ts_frc,ts_cond,hh_frc
2021-03-01T08:00,2021-03-01T10:00,0.5,300,0.1
`)
	_, err := Clean(tbl, VariantTS)
	assert.True(t, errors.Is(err, ErrSchemaNotRecognized))
}

func TestCleanWithoutTargetColumnKeepsRows(t *testing.T) {
	tbl := mustTable(t, `ts_datetime,hh_datetime,se1_frc,se1_wattemp,se1_cond
2021-03-01T08:00,2021-03-01T10:00,0.5,25,300
2021-03-01 09:00,2021-03-01 10:00,0.7,27,310
`)
	v, err := ResolveSchema(tbl.Columns)
	require.NoError(t, err)
	c, err := Clean(tbl, v)
	require.NoError(t, err)
	assert.False(t, c.HasTarget)
	require.Len(t, c.Records, 2)
	assert.True(t, math.IsNaN(c.Records[0].DownstreamFRC))
	assert.Equal(t, time.Hour, c.TransitVariability)
}

func TestImputeSameDayLocality(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	dates := []string{"d1", "d1", "d2", "d2"}

	before, _ := ImputeSameDay(dates, []*float64{f(20), nil, f(30), nil})
	after, _ := ImputeSameDay(dates, []*float64{f(20), nil, f(99), nil})

	assert.Equal(t, before[1], after[1])
	assert.InDelta(t, 20.0, after[1], 1e-12)
	assert.InDelta(t, 99.0, after[3], 1e-12)
}

func TestImputeSameDayWithoutObservationsIsNaN(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	out, n := ImputeSameDay([]string{"d1", "d2"}, []*float64{f(1), nil})
	assert.Equal(t, 1, n)
	assert.True(t, math.IsNaN(out[1]))
}

func TestSummarize(t *testing.T) {
	c, err := Clean(mustTable(t, sampleCSV), VariantTS)
	require.NoError(t, err)

	s := Summarize(c)
	assert.Equal(t, 3, s.Records)
	require.Len(t, s.Columns, 4)
	assert.Equal(t, "upstream_frc", s.Columns[0].Column)
	assert.InDelta(t, 0.6, s.Columns[0].Median, 1e-12)
	assert.InDelta(t, 0.5, s.Columns[0].Min, 1e-12)
	assert.InDelta(t, 0.9, s.Columns[0].Max, 1e-12)
	assert.Equal(t, TargetColumn, s.Columns[3].Column)
}

func TestScenarioGrid(t *testing.T) {
	grid := ScenarioGrid(25, 300)
	require.Len(t, grid, ScenarioSteps)
	assert.InDelta(t, 0.2, grid[0][0], 1e-12)
	assert.InDelta(t, 0.25, grid[1][0], 1e-12)
	assert.InDelta(t, 2.0, grid[len(grid)-1][0], 1e-12)
	for _, row := range grid {
		assert.Equal(t, 25.0, row[1])
		assert.Equal(t, 300.0, row[2])
	}
}

func TestReadCSVPadsShortRows(t *testing.T) {
	tbl := mustTable(t, "\ufeffa,b,c\n1,2\n")
	assert.Equal(t, []string{"a", "b", "c"}, tbl.Columns)
	assert.Equal(t, "", tbl.Cell(0, "c"))
	assert.Equal(t, "", tbl.Cell(0, "missing"))
	assert.True(t, tbl.Has("a"))
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"ts_datetime", "hh_datetime", "ts_frc1", "ts_wattemp", "ts_cond", "hh_frc1"},
		{"2021-03-01T08:00", "2021-03-01T10:00", 0.5, 25, 300, 0.1},
		{"2021-03-01T09:00", "2021-03-01T10:30", 0.6, 26, 310, 0.2},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, VariantTS1, c.Variant)
	require.Len(t, c.Records, 2)
	assert.InDelta(t, 0.6, c.Records[1].UpstreamFRC, 1e-12)
	assert.InDelta(t, 0.2, c.Records[1].DownstreamFRC, 1e-12)
}

func TestReadFileRejectsUnknownExtension(t *testing.T) {
	_, err := ReadFile("survey.json")
	assert.Error(t, err)
}
