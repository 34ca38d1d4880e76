// Package observe provides application-wide observability primitives for
// Vocanto: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vocanto metrics.
const meterName = "github.com/vocanto/vocanto"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long session establishment takes.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// CaptureChunks counts microphone chunks transmitted upstream.
	CaptureChunks metric.Int64Counter

	// CaptureDropped counts microphone chunks dropped because the
	// outbound queue was full.
	CaptureDropped metric.Int64Counter

	// PlaybackUnits counts speech chunks scheduled for playback.
	PlaybackUnits metric.Int64Counter

	// PlaybackDropped counts inbound speech chunks rejected before
	// scheduling (bad PCM).
	PlaybackDropped metric.Int64Counter

	// Interruptions counts barge-in events that flushed playback.
	Interruptions metric.Int64Counter

	// TurnsCompleted counts completed model response turns.
	TurnsCompleted metric.Int64Counter

	// SessionResets counts manual session resets.
	SessionResets metric.Int64Counter

	// --- Error counters ---

	// SendErrors counts failed wire sends. Use with attribute:
	//   attribute.String("op", ...)
	SendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveUnits tracks the number of playback units currently scheduled.
	ActiveUnits metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// session-establishment latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("vocanto.session.connect.duration",
		metric.WithDescription("Latency of live session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureChunks, err = m.Int64Counter("vocanto.capture.chunks",
		metric.WithDescription("Total microphone chunks transmitted."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDropped, err = m.Int64Counter("vocanto.capture.dropped",
		metric.WithDescription("Total microphone chunks dropped before transmission."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnits, err = m.Int64Counter("vocanto.playback.units",
		metric.WithDescription("Total speech chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDropped, err = m.Int64Counter("vocanto.playback.dropped",
		metric.WithDescription("Total inbound speech chunks rejected before scheduling."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("vocanto.playback.interruptions",
		metric.WithDescription("Total barge-in events that flushed playback."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("vocanto.session.turns",
		metric.WithDescription("Total completed model response turns."),
	); err != nil {
		return nil, err
	}
	if met.SessionResets, err = m.Int64Counter("vocanto.session.resets",
		metric.WithDescription("Total manual session resets."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SendErrors, err = m.Int64Counter("vocanto.send.errors",
		metric.WithDescription("Total failed wire sends by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveUnits, err = m.Int64UpDownCounter("vocanto.playback.active_units",
		metric.WithDescription("Number of playback units currently scheduled."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocanto.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordSendError is a convenience method that records a failed wire send
// for the given operation ("chunk", "content", "marker").
func (m *Metrics) RecordSendError(ctx context.Context, op string) {
	m.SendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
