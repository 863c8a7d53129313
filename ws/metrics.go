package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_connection_state",
		Help: "Current transport state: 0 disconnected, 1 connecting, 2 connected.",
	})

	reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reconnect_attempts_total",
		Help: "Reconnection attempts performed by the supervisor.",
	})

	reconnectExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reconnect_exhausted_total",
		Help: "Reconnection rounds that exceeded the attempt cap.",
	})

	framesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_frames_received_total",
		Help: "Inbound frames by type.",
	}, []string{"type"})

	framesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_frames_sent_total",
		Help: "Outbound frames by type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(connectionState, reconnectAttempts, reconnectExhausted,
		framesReceived, framesSent)
}
