package sweep

import "github.com/prometheus/client_golang/prometheus"

var (
	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "therapy_sync_sweep_runs_total",
			Help: "Sweep passes, by what started them.",
		},
		[]string{"reason"},
	)
	sweepArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_sweep_archived_total",
			Help: "Conversations archived by the sweep.",
		},
	)
	sweepFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_sweep_failures_total",
			Help: "Per-conversation sweep failures.",
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "therapy_sync_sweep_duration_seconds",
			Help:    "Time taken by one sweep pass.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(sweepRuns, sweepArchived, sweepFailures, sweepDuration)
}
