package enforcement

import "github.com/prometheus/client_golang/prometheus"

var (
	sweepRunsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetracking",
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Number of reconciliation sweeps executed.",
	})

	timerOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timetracking",
		Subsystem: "sweep",
		Name:      "timers_total",
		Help:      "Timers examined by the sweep, labeled by outcome.",
	}, []string{"outcome"})

	notificationFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timetracking",
		Subsystem: "sweep",
		Name:      "notification_failures_total",
		Help:      "Notifications that could not be enqueued after a force-stop, labeled by category.",
	}, []string{"category"})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "timetracking",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Wall time of a full reconciliation sweep.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	lastSweepGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timetracking",
		Subsystem: "sweep",
		Name:      "last_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed sweep.",
	})
)

func init() {
	prometheus.MustRegister(sweepRunsCounter, timerOutcomeCounter, notificationFailureCounter, sweepDuration, lastSweepGauge)
}

func recordSweep(summary Summary) {
	sweepRunsCounter.Inc()
	sweepDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	lastSweepGauge.Set(float64(summary.FinishedAt.Unix()))
}

func recordOutcome(outcome Outcome) {
	timerOutcomeCounter.WithLabelValues(string(outcome)).Inc()
}

func recordNotificationFailure(category string) {
	notificationFailureCounter.WithLabelValues(category).Inc()
}
