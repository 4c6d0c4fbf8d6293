package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pantrywatch"

var (
	liveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Number of live SSE connections",
		},
	)

	connectionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections_opened_total",
			Help:      "Total SSE connections accepted",
		},
		[]string{"tenant_id"},
	)

	connectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections_closed_total",
			Help:      "Total SSE connections closed by reason",
		},
		[]string{"tenant_id", "reason"},
	)

	broadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_sent_total",
			Help:      "Total events written to live connections",
		},
		[]string{"event"},
	)
)

func recordConnectionOpened(tenantID string) {
	connectionsOpened.WithLabelValues(tenantID).Inc()
}

func recordConnectionClosed(tenantID, reason string) {
	connectionsClosed.WithLabelValues(tenantID, reason).Inc()
}

func recordBroadcast(event string, sent int) {
	broadcastEvents.WithLabelValues(event).Add(float64(sent))
}

func setConnectionCount(total int) {
	liveConnections.Set(float64(total))
}
