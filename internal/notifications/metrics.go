package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pantrywatch"

var (
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_depth",
			Help:      "Number of notifications waiting in the in-memory queue",
		},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "processed_total",
			Help:      "Total notifications processed by terminal outcome",
		},
		[]string{"outcome"},
	)

	channelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "channel_attempts_total",
			Help:      "Total per-channel delivery attempts",
		},
		[]string{"channel", "status"},
	)

	channelSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to attempt delivery on one channel",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

func setQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordQueueStats refreshes the queue depth gauge. The queue updates it on
// every mutation; this exists for the periodic collection loop so the gauge
// recovers from missed inline updates.
func RecordQueueStats(depth int) {
	queueDepth.Set(float64(depth))
}

func recordOutcome(outcome string) {
	notificationsProcessed.WithLabelValues(outcome).Inc()
}

func recordChannelAttempt(channel, status string) {
	channelAttempts.WithLabelValues(channel, status).Inc()
}

func recordChannelDuration(channel string, d time.Duration) {
	channelSendDuration.WithLabelValues(channel).Observe(d.Seconds())
}
