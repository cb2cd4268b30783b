package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	timerTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timetracking",
		Subsystem: "timers",
		Name:      "transitions_total",
		Help:      "Number of committed timer transitions, labeled by action.",
	}, []string{"action"})

	concurrentRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timetracking",
		Subsystem: "timers",
		Name:      "concurrent_retries_total",
		Help:      "Number of read-modify-write cycles retried because the timer changed underneath.",
	}, []string{"action"})

	entriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timetracking",
		Subsystem: "entries",
		Name:      "materialized_total",
		Help:      "Number of time entries created, labeled by source.",
	}, []string{"source"})

	entryMaterializedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timetracking",
		Subsystem: "entries",
		Name:      "last_materialized_timestamp_seconds",
		Help:      "Unix timestamp of the most recent time entry created.",
	})
)

func init() {
	prometheus.MustRegister(timerTransitionCounter, concurrentRetryCounter, entriesCounter, entryMaterializedGauge)
}

// RecordTimerTransition counts a committed transition.
func RecordTimerTransition(action string) {
	timerTransitionCounter.WithLabelValues(action).Inc()
}

// RecordConcurrentRetry counts an optimistic retry.
func RecordConcurrentRetry(action string) {
	concurrentRetryCounter.WithLabelValues(action).Inc()
}

// RecordEntryMaterialized counts an entry and updates the watermark gauge.
func RecordEntryMaterialized(source string, ts time.Time) {
	entriesCounter.WithLabelValues(source).Inc()
	if ts.IsZero() {
		return
	}
	entryMaterializedGauge.Set(float64(ts.Unix()))
}
