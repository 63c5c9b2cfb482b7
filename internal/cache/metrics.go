package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("taskview.cache")
	meter  = otel.Meter("taskview.cache")
)

var (
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	cacheEvictions  metric.Int64Counter
	cacheGetLatency metric.Float64Histogram
	flightsStarted  metric.Int64Counter
	flightsDropped  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"taskview_cache_hits_total",
			metric.WithDescription("Total number of result cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"taskview_cache_misses_total",
			metric.WithDescription("Total number of result cache misses by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEvictions, err = meter.Int64Counter(
			"taskview_cache_evictions_total",
			metric.WithDescription("Total number of LRU evictions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheGetLatency, err = meter.Float64Histogram(
			"taskview_cache_get_duration_seconds",
			metric.WithDescription("Duration of result cache lookups"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		flightsStarted, err = meter.Int64Counter(
			"taskview_cache_flights_total",
			metric.WithDescription("Evaluations started by the loader"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		flightsDropped, err = meter.Int64Counter(
			"taskview_cache_flights_discarded_total",
			metric.WithDescription("Evaluations whose result was discarded"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCacheHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordCacheMiss(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordCacheEviction(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheEvictions.Add(ctx, 1)
}

func recordCacheGetLatency(ctx context.Context, duration time.Duration, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheGetLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("hit", hit)),
	)
}

func recordFlightStarted(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	flightsStarted.Add(ctx, 1)
}

func recordFlightDiscarded(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	flightsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// startCacheSpan creates a span for a cache operation.
func startCacheSpan(ctx context.Context, operation string, key Key) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ResultCache."+operation,
		trace.WithAttributes(
			attribute.String("cache.operation", operation),
			attribute.Int64("cache.version", int64(key.Version)),
			attribute.String("cache.fingerprint", key.Fingerprint),
		),
	)
}

func setCacheSpanResult(span trace.Span, hit bool) {
	span.SetAttributes(attribute.Bool("cache.hit", hit))
}
