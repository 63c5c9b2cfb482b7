package observability

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Metrics summarizes filter sessions recorded in the event log.
type Metrics struct {
	FiltersApplied  int            `json:"filters_applied"`
	FiltersRejected int            `json:"filters_rejected"`
	RejectedByKind  map[string]int `json:"rejected_by_kind"`
	CacheHits       int            `json:"cache_hits"`
	BackgroundEvals int            `json:"background_evals"`
	EvalsCompleted  int            `json:"evals_completed"`
	EvalsDiscarded  int            `json:"evals_discarded"`
	DatasetChanges  int            `json:"dataset_changes"`
	MeanEvalMillis  float64        `json:"mean_eval_ms"`
	MaxEvalMillis   float64        `json:"max_eval_ms"`
	TopFilters      []FilterCount  `json:"top_filters,omitempty"`
	EventCount      int            `json:"event_count"`
	OldestEvent     *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent     *time.Time     `json:"newest_event,omitempty"`
}

// FilterCount is how often one canonical filter was applied.
type FilterCount struct {
	Canonical string `json:"canonical"`
	Count     int    `json:"count"`
}

// HitRate is the share of applied filters answered from the cache.
func (m *Metrics) HitRate() float64 {
	if m.FiltersApplied == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(m.FiltersApplied)
}

// maxTopFilters bounds Metrics.TopFilters.
const maxTopFilters = 5

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator reading from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates every event at or after since.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{RejectedByKind: make(map[string]int)}
	m.EventCount = len(events)

	filters := make(map[string]int)
	var evalTotal float64
	for i, event := range events {
		t := event.Time
		if i == 0 {
			m.OldestEvent = &t
		}
		m.NewestEvent = &t

		switch event.Type {
		case EventFilterApplied:
			m.FiltersApplied++
			if hit, _ := event.Data["hit"].(bool); hit {
				m.CacheHits++
			}
			if pending, _ := event.Data["pending"].(bool); pending {
				m.BackgroundEvals++
			}
			if canonical, ok := event.Data["canonical"].(string); ok {
				filters[canonical]++
			}
		case EventFilterRejected:
			m.FiltersRejected++
			if kind, ok := event.Data["kind"].(string); ok {
				m.RejectedByKind[kind]++
			}
		case EventEvalCompleted:
			m.EvalsCompleted++
			ms := number(event.Data, "duration_ms")
			evalTotal += ms
			m.MaxEvalMillis = max(m.MaxEvalMillis, ms)
		case EventEvalDiscarded:
			m.EvalsDiscarded++
		case EventDatasetChanged:
			m.DatasetChanges++
		}
	}
	if m.EvalsCompleted > 0 {
		m.MeanEvalMillis = evalTotal / float64(m.EvalsCompleted)
	}

	for canonical, n := range filters {
		m.TopFilters = append(m.TopFilters, FilterCount{Canonical: canonical, Count: n})
	}
	slices.SortFunc(m.TopFilters, func(a, b FilterCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Canonical, b.Canonical)
	})
	if len(m.TopFilters) > maxTopFilters {
		m.TopFilters = m.TopFilters[:maxTopFilters]
	}

	return m, nil
}
