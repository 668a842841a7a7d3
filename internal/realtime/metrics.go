package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtime",
		Name:      "connection_state",
		Help:      "Current transport state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
	})

	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "realtime",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnection attempts scheduled after a lost connection.",
	})

	framesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtime",
		Name:      "frames_received_total",
		Help:      "Inbound frames by type.",
	}, []string{"type"})

	framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "realtime",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped because the transport was not connected.",
	})

	watchdogTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "realtime",
		Name:      "watchdog_trips_total",
		Help:      "Connections torn down by the staleness watchdog.",
	})
)

func init() {
	prometheus.MustRegister(connectionState, reconnects, framesReceived, framesDropped, watchdogTrips)
}
