package oplog

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oplog",
		Name:      "pending_operations",
		Help:      "Number of queued mutations awaiting replay.",
	})

	droppedOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oplog",
		Name:      "dropped_operations_total",
		Help:      "Operations discarded after exceeding the retry ceiling.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(queueDepth, droppedOperations)
}
