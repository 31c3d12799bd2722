package ensemble

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/safewater/frcnet/dataset"
	"github.com/safewater/frcnet/metrics"
	"github.com/safewater/frcnet/nn"
	"github.com/safewater/frcnet/scaler"
)

// Options controls a training session.
type Options struct {
	Size          int
	Epochs        int
	HiddenUnits   int
	TrainFraction float64
	LearningRate  float64
	BatchSize     int
	// Workers bounds concurrent member training; 0 means GOMAXPROCS.
	Workers int
	// Seed derives an independent PCG stream per member from (Seed, index).
	// 0 draws fresh entropy for every member.
	Seed   uint64
	Logger *zap.Logger
}

// DefaultOptions returns 100 members of 5 tanh units trained for 30 epochs
// on an 80/20 split.
func DefaultOptions() Options {
	fit := nn.DefaultFitConfig()
	return Options{
		Size:          100,
		Epochs:        fit.Epochs,
		HiddenUnits:   5,
		TrainFraction: 0.8,
		LearningRate:  fit.LearningRate,
		BatchSize:     fit.BatchSize,
	}
}

// Result is the output of a training session.
type Result struct {
	Ensemble *Ensemble
	Runs     []RunMetrics
	Summary  Summary
	// DroppedRows counts records excluded because a predictor or the target
	// was not finite (e.g. a NaN same-day imputation).
	DroppedRows int
}

// Train fits opts.Size members on the cleaned dataset. Each member gets its
// own shuffled train/validation split and initial weights; all members share
// one scaler.State fit over the whole dataset. Members train concurrently and
// are stored by index. Any member failure fails the whole session and no
// ensemble is returned.
func Train(ctx context.Context, data *dataset.Cleaned, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if data == nil || !data.HasTarget {
		return nil, fmt.Errorf("%w: training requires a dataset with a target column", dataset.ErrInsufficientData)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	predictors, targets := data.Predictors(), data.Targets()
	state, err := scaler.Fit(dataset.PredictorColumns, predictors, dataset.TargetColumn, targets)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}

	predictors, targets, dropped := finiteRows(predictors, targets)
	if dropped > 0 {
		log.Warn("excluding records with undefined values from training", zap.Int("records", dropped))
	}
	if len(predictors) < 2 {
		return nil, fmt.Errorf("%w: %d usable records, need at least 2 to split", dataset.ErrInsufficientData, len(predictors))
	}

	scaledX, err := state.Predictors.Transform(predictors)
	if err != nil {
		return nil, fmt.Errorf("scale predictors: %w", err)
	}
	scaledY := column(state.TransformTargets(targets))

	arch := nn.DefaultArchitecture(opts.HiddenUnits)
	arch.Inputs = len(dataset.PredictorColumns)
	fit := nn.DefaultFitConfig()
	fit.Epochs = opts.Epochs
	fit.BatchSize = opts.BatchSize
	fit.LearningRate = opts.LearningRate

	job := memberJob{
		arch:     arch,
		fit:      fit,
		state:    state,
		x:        scaledX,
		y:        scaledY,
		targets:  targets,
		valCount: validationCount(len(predictors), opts.TrainFraction),
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log.Info("training ensemble",
		zap.Int("members", opts.Size),
		zap.Int("records", len(predictors)),
		zap.Int("validation_records", job.valCount),
		zap.Int("epochs", opts.Epochs),
		zap.Int("hidden_units", opts.HiddenUnits),
		zap.Int("workers", workers),
	)

	members := make([]*nn.Network, opts.Size)
	runs := make([]RunMetrics, opts.Size)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < opts.Size; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			timer := prometheus.NewTimer(metrics.MemberTrainingSeconds)
			net, run, err := job.train(i, memberRand(opts.Seed, i))
			timer.ObserveDuration()
			if err != nil {
				metrics.MembersTrained.WithLabelValues("error").Inc()
				return fmt.Errorf("train member %d: %w", i, err)
			}
			metrics.MembersTrained.WithLabelValues("ok").Inc()
			members[i] = net
			runs[i] = run
			loss, valLoss := run.FinalLoss()
			log.Debug("member trained",
				zap.Int("index", i),
				zap.Float64("train_mse", run.TrainMSE),
				zap.Float64("val_mse", run.ValMSE),
				zap.Float64("train_r2", run.TrainR2),
				zap.Float64("val_r2", run.ValR2),
				zap.Float64("final_loss", loss),
				zap.Float64("final_val_loss", valLoss),
				zap.Float64s("val_loss", run.History.ValLoss),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := Summarize(runs)
	log.Info("ensemble trained",
		zap.Int("members", len(members)),
		zap.Float64("median_train_mse", summary.TrainMSE),
		zap.Float64("median_val_mse", summary.ValMSE),
		zap.Float64("median_train_r2", summary.TrainR2),
		zap.Float64("median_val_r2", summary.ValR2),
	)

	return &Result{
		Ensemble:    &Ensemble{Architecture: arch, Members: members, Scaler: state},
		Runs:        runs,
		Summary:     summary,
		DroppedRows: dropped,
	}, nil
}

func (o Options) validate() error {
	switch {
	case o.Size < 1:
		return fmt.Errorf("ensemble size must be >= 1, got %d", o.Size)
	case o.Epochs < 1:
		return fmt.Errorf("epochs must be >= 1, got %d", o.Epochs)
	case o.HiddenUnits < 1:
		return fmt.Errorf("hidden units must be >= 1, got %d", o.HiddenUnits)
	case o.TrainFraction <= 0 || o.TrainFraction >= 1:
		return fmt.Errorf("train fraction must be in (0,1), got %g", o.TrainFraction)
	case o.LearningRate <= 0:
		return fmt.Errorf("learning rate must be > 0, got %g", o.LearningRate)
	case o.BatchSize < 1:
		return fmt.Errorf("batch size must be >= 1, got %d", o.BatchSize)
	}
	return nil
}

// memberJob is the read-only state shared by every member.
type memberJob struct {
	arch     nn.Architecture
	fit      nn.FitConfig
	state    scaler.State
	x, y     [][]float64
	targets  []float64
	valCount int
}

func (j memberJob) train(index int, rng *rand.Rand) (*nn.Network, RunMetrics, error) {
	perm := rng.Perm(len(j.x))
	valIdx, trainIdx := perm[:j.valCount], perm[j.valCount:]

	trX, trY := pick(j.x, trainIdx), pick(j.y, trainIdx)
	vaX, vaY := pick(j.x, valIdx), pick(j.y, valIdx)

	net, err := nn.New(j.arch, rng)
	if err != nil {
		return nil, RunMetrics{}, err
	}
	history, err := net.Fit(trX, trY, vaX, vaY, j.fit, rng)
	if err != nil {
		return nil, RunMetrics{}, err
	}

	trainPred, err := j.originalScale(net, trX)
	if err != nil {
		return nil, RunMetrics{}, err
	}
	valPred, err := j.originalScale(net, vaX)
	if err != nil {
		return nil, RunMetrics{}, err
	}
	trainActual, valActual := pickValues(j.targets, trainIdx), pickValues(j.targets, valIdx)

	return net, RunMetrics{
		Index:    index,
		TrainMSE: meanSquaredError(trainActual, trainPred),
		ValMSE:   meanSquaredError(valActual, valPred),
		TrainR2:  rSquared(trainActual, trainPred),
		ValR2:    rSquared(valActual, valPred),
		History:  history,
	}, nil
}

func (j memberJob) originalScale(net *nn.Network, x [][]float64) ([]float64, error) {
	out, err := net.Predict(x)
	if err != nil {
		return nil, err
	}
	scaled := make([]float64, len(out))
	for i, row := range out {
		scaled[i] = row[0]
	}
	return j.state.InverseTargets(scaled), nil
}

// validationCount rounds the held-out share up, keeping at least one row on
// each side of the split.
func validationCount(n int, trainFraction float64) int {
	v := int(math.Ceil(float64(n)*(1-trainFraction) - 1e-9))
	return max(1, min(v, n-1))
}

func memberRand(seed uint64, index int) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, uint64(index)))
}

func finiteRows(x [][]float64, y []float64) ([][]float64, []float64, int) {
	outX := make([][]float64, 0, len(x))
	outY := make([]float64, 0, len(y))
	for i, row := range x {
		ok := finite(y[i])
		for _, v := range row {
			ok = ok && finite(v)
		}
		if ok {
			outX = append(outX, row)
			outY = append(outY, y[i])
		}
	}
	return outX, outY, len(x) - len(outX)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func pick(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = rows[i]
	}
	return out
}

func pickValues(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = values[i]
	}
	return out
}

func column(values []float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, v := range values {
		out[i] = []float64{v}
	}
	return out
}
