package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages sent through the durable RPC path, by outcome.",
	}, []string{"outcome"})

	messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "messages_received_total",
		Help:      "Messages accepted from the realtime feed.",
	})

	duplicatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "duplicates_dropped_total",
		Help:      "Inbound messages discarded as echoes or replays.",
	})
)

func init() {
	prometheus.MustRegister(messagesSent, messagesReceived, duplicatesDropped)
}
