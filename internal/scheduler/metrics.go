package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pantrywatch"

var (
	scanRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "scan_runs_total",
		Help:      "Expiry scan runs by outcome.",
	}, []string{"outcome"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "scan_duration_seconds",
		Help:      "Wall time of a full expiry scan.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

func recordScanRun(outcome string, d time.Duration) {
	scanRuns.WithLabelValues(outcome).Inc()
	scanDuration.Observe(d.Seconds())
}
