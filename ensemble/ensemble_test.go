package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/safewater/frcnet/dataset"
	"github.com/safewater/frcnet/nn"
)

const trainingCSV = `ts_datetime,hh_datetime,ts_frc,ts_wattemp,ts_cond,hh_frc
2021-03-01T08:00,2021-03-01T10:00,0.5,25,300,0.1
2021-03-01T09:00,2021-03-01T11:30,0.6,,310,0.15
2021-03-02T08:00,2021-03-02T09:00,0.9,27,320,0.35
2021-03-02T10:00,2021-03-02T13:00,1.1,29,305,0.42
2021-03-03T07:30,2021-03-03T09:00,0.7,24,298,0.2
2021-03-03T11:00,2021-03-03T14:00,1.4,30,330,0.61
2021-03-04T08:00,2021-03-04T10:30,0.8,26,301,0.27
2021-03-04T12:00,2021-03-04T13:00,1.2,31,315,0.55
2021-03-05T08:00,2021-03-05T11:00,0.4,23,290,0.05
2021-03-05T09:30,2021-03-05T10:30,1.0,28,312,0.4
`

func cleanedFixture(t *testing.T) *dataset.Cleaned {
	t.Helper()
	tbl, err := dataset.ReadCSV(strings.NewReader(trainingCSV))
	require.NoError(t, err)
	v, err := dataset.ResolveSchema(tbl.Columns)
	require.NoError(t, err)
	c, err := dataset.Clean(tbl, v)
	require.NoError(t, err)
	return c
}

func smallOptions(t *testing.T, size int) Options {
	opts := DefaultOptions()
	opts.Size = size
	opts.Epochs = 5
	opts.Seed = 7
	opts.Logger = zaptest.NewLogger(t)
	return opts
}

func TestTrainSaveLoadScenario(t *testing.T) {
	data := cleanedFixture(t)
	require.Len(t, data.Records, 10)
	assert.Equal(t, 25.0, data.Records[1].Temperature)

	res, err := Train(context.Background(), data, smallOptions(t, 3))
	require.NoError(t, err)
	require.Equal(t, 3, res.Ensemble.Size())
	require.Len(t, res.Runs, 3)
	for i, r := range res.Runs {
		assert.Equal(t, i, r.Index)
		assert.False(t, math.IsNaN(r.TrainMSE))
		require.Len(t, r.History.Loss, 5)
		require.Len(t, r.History.ValLoss, 5)
		loss, valLoss := r.FinalLoss()
		assert.Equal(t, r.History.Loss[4], loss)
		assert.Equal(t, r.History.ValLoss[4], valLoss)
		assert.False(t, math.IsNaN(valLoss))
	}

	dir := filepath.Join(t.TempDir(), "ensemble")
	manifest, err := res.Ensemble.Save(dir, SaveOptions{Summary: &res.Summary})
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.MemberCount)
	assert.NotEmpty(t, manifest.SessionID)

	loaded, m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Size())
	assert.Equal(t, manifest.SessionID, m.SessionID)
	assert.Equal(t, res.Ensemble.Scaler, loaded.Scaler)
	for i := range loaded.Members {
		assert.Equal(t, res.Ensemble.Members[i].Weights(), loaded.Members[i].Weights())
	}
}

func TestEnsembleSizeInvariant(t *testing.T) {
	data := cleanedFixture(t)
	for _, k := range []int{1, 2, 5} {
		opts := smallOptions(t, k)
		opts.Epochs = 1
		res, err := Train(context.Background(), data, opts)
		require.NoError(t, err)

		dir := filepath.Join(t.TempDir(), "e")
		_, err = res.Ensemble.Save(dir, SaveOptions{})
		require.NoError(t, err)
		loaded, _, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, k, loaded.Size())
	}
}

func TestTrainSeedIsReproducibleAcrossWorkerCounts(t *testing.T) {
	data := cleanedFixture(t)
	a := smallOptions(t, 4)
	a.Workers = 1
	b := smallOptions(t, 4)
	b.Workers = 4

	ra, err := Train(context.Background(), data, a)
	require.NoError(t, err)
	rb, err := Train(context.Background(), data, b)
	require.NoError(t, err)
	for i := range ra.Ensemble.Members {
		assert.Equal(t, ra.Ensemble.Members[i].Weights(), rb.Ensemble.Members[i].Weights())
	}
	assert.Equal(t, ra.Runs, rb.Runs)
}

func TestTrainRejectsUnusableData(t *testing.T) {
	data := cleanedFixture(t)
	data.Records = data.Records[:1]
	_, err := Train(context.Background(), data, smallOptions(t, 2))
	assert.True(t, errors.Is(err, dataset.ErrInsufficientData))

	noTarget := cleanedFixture(t)
	noTarget.HasTarget = false
	_, err = Train(context.Background(), noTarget, smallOptions(t, 2))
	assert.True(t, errors.Is(err, dataset.ErrInsufficientData))

	opts := smallOptions(t, 0)
	_, err = Train(context.Background(), cleanedFixture(t), opts)
	assert.Error(t, err)
}

func TestTrainSkipsNaNRecords(t *testing.T) {
	data := cleanedFixture(t)
	data.Records[3].Conductivity = math.NaN()
	res, err := Train(context.Background(), data, smallOptions(t, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, res.DroppedRows)
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, cleanedFixture(t), smallOptions(t, 3))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestValidationCount(t *testing.T) {
	assert.Equal(t, 1, validationCount(5, 0.8))
	assert.Equal(t, 2, validationCount(10, 0.8))
	assert.Equal(t, 1, validationCount(2, 0.8))
	assert.Equal(t, 3, validationCount(11, 0.8))
	assert.Equal(t, 1, validationCount(2, 0.1))
}

func TestAggregateScenario(t *testing.T) {
	med, probs := Aggregate([]float64{0.18, 0.22, 0.19, 0.31}, DefaultThresholds)
	assert.InDelta(t, 0.205, med, 1e-12)
	assert.Equal(t, []float64{0.25, 0.75, 0.75}, probs)
}

func TestAggregateNaN(t *testing.T) {
	med, probs := Aggregate([]float64{0.1, math.NaN()}, []float64{0.2})
	assert.True(t, math.IsNaN(med))
	assert.Equal(t, []float64{0.5}, probs)
}

func TestPredictDeterministicAndBounded(t *testing.T) {
	res, err := Train(context.Background(), cleanedFixture(t), smallOptions(t, 5))
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	rows := make([][]float64, 50)
	for i := range rows {
		rows[i] = []float64{rng.Float64() * 2.5, 15 + rng.Float64()*20, 250 + rng.Float64()*100}
	}

	first, err := res.Ensemble.Predict(dataset.PredictorColumns, rows, DefaultThresholds)
	require.NoError(t, err)
	second, err := res.Ensemble.Predict(dataset.PredictorColumns, rows, DefaultThresholds)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	dir := filepath.Join(t.TempDir(), "ensemble")
	_, err = res.Ensemble.Save(dir, SaveOptions{})
	require.NoError(t, err)
	loaded, _, err := Load(dir)
	require.NoError(t, err)
	fromDisk, err := loaded.Predict(dataset.PredictorColumns, rows, DefaultThresholds)
	require.NoError(t, err)
	again, err := loaded.Predict(dataset.PredictorColumns, rows, DefaultThresholds)
	require.NoError(t, err)
	assert.Equal(t, fromDisk, again)
	assert.Equal(t, first, fromDisk)

	for _, p := range first {
		require.Len(t, p.Members, 5)
		require.Len(t, p.Probabilities, 3)
		for _, q := range p.Probabilities {
			assert.GreaterOrEqual(t, q, 0.0)
			assert.LessOrEqual(t, q, 1.0)
		}
		assert.LessOrEqual(t, p.Probabilities[0], p.Probabilities[1])
		assert.LessOrEqual(t, p.Probabilities[1], p.Probabilities[2])
	}
}

func TestPredictPreconditions(t *testing.T) {
	empty := &Ensemble{}
	_, err := empty.Predict(dataset.PredictorColumns, [][]float64{{1, 2, 3}}, DefaultThresholds)
	assert.True(t, errors.Is(err, ErrEmptyEnsemble))

	res, err := Train(context.Background(), cleanedFixture(t), smallOptions(t, 1))
	require.NoError(t, err)
	_, err = res.Ensemble.Predict([]string{"upstream_frc", "conductivity", "temperature"}, [][]float64{{1, 2, 3}}, DefaultThresholds)
	assert.True(t, errors.Is(err, ErrScalerMismatch))
	_, err = res.Ensemble.Predict(dataset.PredictorColumns, [][]float64{{1, 2}}, DefaultThresholds)
	assert.True(t, errors.Is(err, ErrScalerMismatch))
}

func TestSummarizeMedians(t *testing.T) {
	runs := []RunMetrics{
		{TrainMSE: 1, ValMSE: 4, TrainR2: 0.5, ValR2: 0.1},
		{TrainMSE: 3, ValMSE: 2, TrainR2: 0.7, ValR2: math.NaN()},
		{TrainMSE: 2, ValMSE: 6, TrainR2: 0.6, ValR2: 0.3},
		{TrainMSE: 5, ValMSE: 8, TrainR2: 0.9, ValR2: 0.2},
	}
	s := Summarize(runs)
	assert.Equal(t, 2.5, s.TrainMSE)
	assert.Equal(t, 5.0, s.ValMSE)
	assert.InDelta(t, 0.65, s.TrainR2, 1e-12)
	assert.True(t, math.IsNaN(s.ValR2))
}

func TestRSquared(t *testing.T) {
	assert.InDelta(t, 1.0, rSquared([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 0.75, rSquared([]float64{0, 2}, []float64{0.5, 1.5}), 1e-12)
	assert.True(t, math.IsNaN(rSquared([]float64{0.2, 0.2}, []float64{0.1, 0.3})))
	assert.True(t, math.IsNaN(rSquared([]float64{0.2}, []float64{0.1})))
}

func TestRunMetricsJSONCarriesNaNAsNull(t *testing.T) {
	m := RunMetrics{
		Index: 2, TrainMSE: 0.01, ValMSE: 0.02, TrainR2: 0.8, ValR2: math.NaN(),
		History: nn.History{Loss: []float64{0.5, 0.25}, ValLoss: []float64{0.75, math.NaN()}},
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"val_r2":null`)
	assert.Contains(t, string(data), `"loss":[0.5,0.25]`)
	assert.Contains(t, string(data), `"val_loss":[0.75,null]`)

	var back RunMetrics
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 2, back.Index)
	assert.True(t, math.IsNaN(back.ValR2))
	assert.Equal(t, 0.8, back.TrainR2)
	assert.Equal(t, []float64{0.5, 0.25}, back.History.Loss)
	require.Len(t, back.History.ValLoss, 2)
	assert.True(t, math.IsNaN(back.History.ValLoss[1]))
}

func TestWriteJSONReportsWriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	assert.Error(t, writeJSON("/dev/full", map[string]int{"members": 3}))

	path := filepath.Join(t.TempDir(), "scaler.json")
	require.NoError(t, writeJSON(path, map[string]int{"members": 3}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"members":3}`, string(data))
}

func TestSaveRefusesExistingDirectory(t *testing.T) {
	res, err := Train(context.Background(), cleanedFixture(t), smallOptions(t, 1))
	require.NoError(t, err)
	root := t.TempDir()
	dir := filepath.Join(root, "ensemble")
	_, err = res.Ensemble.Save(dir, SaveOptions{})
	require.NoError(t, err)

	_, err = res.Ensemble.Save(dir, SaveOptions{})
	assert.Error(t, err)
	_, err = res.Ensemble.Save(dir, SaveOptions{Overwrite: true})
	assert.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directories must not be left behind")

	_, err = (&Ensemble{}).Save(filepath.Join(root, "empty"), SaveOptions{})
	assert.True(t, errors.Is(err, ErrEmptyEnsemble))
}

func snapshot(t *testing.T, dir string) fstest.MapFS {
	t.Helper()
	out := fstest.MapFS{}
	fsys := os.DirFS(dir)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out[p] = &fstest.MapFile{Data: data}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestLoadFSCorruptOrIncomplete(t *testing.T) {
	res, err := Train(context.Background(), cleanedFixture(t), smallOptions(t, 3))
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "ensemble")
	_, err = res.Ensemble.Save(dir, SaveOptions{})
	require.NoError(t, err)

	good := snapshot(t, dir)
	loaded, _, err := LoadFS(good)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Size())

	wrongShape, err := json.Marshal(nn.Weights{
		Hidden:     [][]float64{{1, 2}},
		HiddenBias: []float64{0},
		Output:     [][]float64{{1}},
		OutputBias: []float64{0},
	})
	require.NoError(t, err)

	cases := map[string]func(fstest.MapFS){
		"missing member":    func(m fstest.MapFS) { delete(m, MemberFile(1)) },
		"unreadable member": func(m fstest.MapFS) { m[MemberFile(2)] = &fstest.MapFile{Data: []byte("{")} },
		"wrong shape":       func(m fstest.MapFS) { m[MemberFile(0)] = &fstest.MapFile{Data: wrongShape} },
		"missing scaler":    func(m fstest.MapFS) { delete(m, ScalerFile) },
		"empty scaler":      func(m fstest.MapFS) { m[ScalerFile] = &fstest.MapFile{Data: []byte("{}")} },
		"missing manifest":  func(m fstest.MapFS) { delete(m, ManifestFile) },
		"bad architecture": func(m fstest.MapFS) {
			m[ArchitectureFile] = &fstest.MapFile{Data: []byte(`{"inputs":3,"hidden_units":5,"activation":"relu6","outputs":1}`)}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			fsys := fstest.MapFS{}
			for k, v := range good {
				fsys[k] = v
			}
			mutate(fsys)
			e, m, err := LoadFS(fsys)
			assert.True(t, errors.Is(err, ErrCorruptOrIncompleteEnsemble), "got %v", err)
			assert.Nil(t, e)
			assert.Nil(t, m)
		})
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent"))
	assert.True(t, errors.Is(err, ErrCorruptOrIncompleteEnsemble))
}
