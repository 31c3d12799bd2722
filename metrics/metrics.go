package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MembersTrained counts trained ensemble members by outcome (ok/error)
var MembersTrained = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frcnet_members_trained_total",
		Help: "Total number of ensemble members trained",
	},
	[]string{"outcome"},
)

// MemberTrainingSeconds records how long one member takes to fit
var MemberTrainingSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "frcnet_member_training_seconds",
		Help:    "Wall time in seconds to fit and score one ensemble member",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	},
)

// Inference metrics
var (
	Predictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "frcnet_predictions_total",
			Help: "Total number of input records scored by an ensemble",
		},
	)

	EnsembleLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frcnet_ensemble_loads_total",
			Help: "Ensemble load attempts by outcome (ok/corrupt)",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(MembersTrained, MemberTrainingSeconds)
	prometheus.MustRegister(Predictions, EnsembleLoads)
}
