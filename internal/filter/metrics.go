package filter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK        = "ok"
	outcomeCancelled = "cancelled"
)

var (
	evalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskview",
			Subsystem: "filter",
			Name:      "eval_duration_seconds",
			Help:      "Duration of a single filter evaluation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"outcome"},
	)

	evalMatches = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "taskview",
			Subsystem: "filter",
			Name:      "eval_matches",
			Help:      "Number of records matched by a completed evaluation.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	validationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskview",
			Subsystem: "filter",
			Name:      "validation_errors_total",
			Help:      "Expressions rejected because a literal could not be bound.",
		},
	)
)

func observeEval(outcome string, start time.Time, matches int) {
	evalDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if outcome == outcomeOK {
		evalMatches.Observe(float64(matches))
	}
}
