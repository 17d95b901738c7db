// Package observe provides application-wide observability primitives for
// Callout: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Callout metrics.
const meterName = "github.com/MrWong99/callout"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// AttemptDuration tracks how long one playback tier ran. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("status", ...)
	AttemptDuration metric.Float64Histogram

	// Announcements counts announcements that reached a terminal state. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("status", ...)
	Announcements metric.Int64Counter

	// QueueLength tracks pending plus playing announcements.
	QueueLength metric.Int64UpDownCounter

	// CacheLookups counts audio cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// ReportFailures counts completion reports a sink failed to deliver. Use
	// with attribute:
	//   attribute.String("sink", ...)
	ReportFailures metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// attemptBuckets defines histogram bucket boundaries (in seconds) for
// playback attempts, which run from a few hundred milliseconds to the tier
// timeout.
var attemptBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AttemptDuration, err = m.Float64Histogram("callout.attempt.duration",
		metric.WithDescription("Duration of a single playback tier attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(attemptBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Announcements, err = m.Int64Counter("callout.announcements",
		metric.WithDescription("Announcements finished by delivering method and status."),
	); err != nil {
		return nil, err
	}
	if met.QueueLength, err = m.Int64UpDownCounter("callout.queue.length",
		metric.WithDescription("Announcements pending or playing."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("callout.cache.lookups",
		metric.WithDescription("Pre-recorded audio cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ReportFailures, err = m.Int64Counter("callout.report.failures",
		metric.WithDescription("Completion reports a sink failed to deliver."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("callout.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and new state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("callout.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAttempt records one tier attempt's duration.
func (m *Metrics) RecordAttempt(ctx context.Context, method, status string, d time.Duration) {
	m.AttemptDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("status", status),
		),
	)
}

// RecordAnnouncement records an announcement reaching a terminal state.
func (m *Metrics) RecordAnnouncement(ctx context.Context, method, status string) {
	m.Announcements.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("status", status),
		),
	)
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordReportFailure records a failed completion report for sink.
func (m *Metrics) RecordReportFailure(ctx context.Context, sink string) {
	m.ReportFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordBreakerTransition records a circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("state", state),
		),
	)
}
