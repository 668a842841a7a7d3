package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reconcile",
		Name:      "sync_duration_seconds",
		Help:      "Wall time of a sync phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})

	syncErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconcile",
		Name:      "sync_errors_total",
		Help:      "Sync phases that ended in an error.",
	}, []string{"phase"})

	pushedOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconcile",
		Name:      "pushed_operations_total",
		Help:      "Queued operations replayed against the server, by outcome.",
	}, []string{"outcome"})

	orphansRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconcile",
		Name:      "orphans_removed_total",
		Help:      "Synced local records deleted because the server no longer returns them.",
	})
)

func init() {
	prometheus.MustRegister(syncDuration, syncErrors, pushedOperations, orphansRemoved)
}
