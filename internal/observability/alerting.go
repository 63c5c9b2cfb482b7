package observability

import (
	"fmt"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert is a triggered health condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts fire.
type AlertThresholds struct {
	SlowEvalMillis   float64 `yaml:"slow_eval_ms" json:"slow_eval_ms"`
	MinHitRate       float64 `yaml:"min_hit_rate" json:"min_hit_rate"`
	MinSamples       int     `yaml:"min_samples" json:"min_samples"`
	MaxRejectedRatio float64 `yaml:"max_rejected_ratio" json:"max_rejected_ratio"`
	MaxDiscardRatio  float64 `yaml:"max_discard_ratio" json:"max_discard_ratio"`
}

// DefaultAlertThresholds returns the default thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		SlowEvalMillis:   250,
		MinHitRate:       0.2,
		MinSamples:       20,
		MaxRejectedRatio: 0.5,
		MaxDiscardRatio:  0.5,
	}
}

// AlertEngine checks session health against thresholds.
type AlertEngine interface {
	Evaluate(since time.Time) ([]Alert, error)
}

type alertEngine struct {
	metrics    MetricsCalculator
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine over the metrics derived from eventLog.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		metrics:    NewMetricsCalculator(eventLog),
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate computes metrics since the given time and returns every
// triggered alert. Ratio alerts need at least MinSamples observations.
func (ae *alertEngine) Evaluate(since time.Time) ([]Alert, error) {
	m, err := ae.metrics.Calculate(since)
	if err != nil {
		return nil, fmt.Errorf("calculating metrics for alerts: %w", err)
	}
	now := ae.now()
	th := ae.thresholds

	var alerts []Alert
	add := func(id, condition string, sev AlertSeverity, msg string) {
		alerts = append(alerts, Alert{ID: id, Condition: condition, Severity: sev, Message: msg, TriggeredAt: now})
	}

	if th.SlowEvalMillis > 0 && m.MaxEvalMillis > th.SlowEvalMillis {
		add("slow-eval", "evaluation_slow", SeverityMedium,
			fmt.Sprintf("slowest evaluation took %.0fms, above %.0fms", m.MaxEvalMillis, th.SlowEvalMillis))
	}

	if m.FiltersApplied >= th.MinSamples && m.HitRate() < th.MinHitRate {
		add("low-hit-rate", "cache_hit_rate_low", SeverityLow,
			fmt.Sprintf("cache hit rate %.0f%% over %d filters, below %.0f%%", m.HitRate()*100, m.FiltersApplied, th.MinHitRate*100))
	}

	if attempts := m.FiltersApplied + m.FiltersRejected; attempts >= th.MinSamples {
		if ratio := float64(m.FiltersRejected) / float64(attempts); ratio > th.MaxRejectedRatio {
			add("rejected-filters", "filters_rejected", SeverityLow,
				fmt.Sprintf("%d of %d filters were rejected", m.FiltersRejected, attempts))
		}
	}

	if runs := m.EvalsCompleted + m.EvalsDiscarded; runs >= th.MinSamples {
		if ratio := float64(m.EvalsDiscarded) / float64(runs); ratio > th.MaxDiscardRatio {
			add("discarded-evals", "evaluations_discarded", SeverityHigh,
				fmt.Sprintf("%d of %d evaluations were discarded before publishing", m.EvalsDiscarded, runs))
		}
	}

	return alerts, nil
}
