// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parleyvoice/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Generation counters ---

	// GenerationsStarted counts generations started (including the greeting
	// pass when configured).
	GenerationsStarted metric.Int64Counter

	// GenerationsCancelled counts generations cancelled by interrupt or by a
	// mid-generation final transcript (merge restart).
	GenerationsCancelled metric.Int64Counter

	// GenerationsCompleted counts generations that ended naturally and emitted
	// response_complete.
	GenerationsCompleted metric.Int64Counter

	// --- Pipeline counters ---

	// LLMChunks counts streamed LLM text chunks relayed to clients.
	LLMChunks metric.Int64Counter

	// TTSSpans counts text spans dispatched for synthesis.
	TTSSpans metric.Int64Counter

	// TTSErrors counts spans whose synthesis failed (the span's audio is
	// dropped; the generation continues).
	TTSErrors metric.Int64Counter

	// STTReconnects counts STT stream reconnection attempts.
	STTReconnects metric.Int64Counter

	// DroppedFrames counts outbound client frames shed under backpressure.
	// Use with attribute.String("kind", ...) naming the frame kind.
	DroppedFrames metric.Int64Counter

	// --- Latency histograms ---

	// TTSDuration tracks per-span text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Generation counters.
	if met.GenerationsStarted, err = m.Int64Counter("parley.generations.started",
		metric.WithDescription("Total generations started."),
	); err != nil {
		return nil, err
	}
	if met.GenerationsCancelled, err = m.Int64Counter("parley.generations.cancelled",
		metric.WithDescription("Total generations cancelled by interrupt or merge restart."),
	); err != nil {
		return nil, err
	}
	if met.GenerationsCompleted, err = m.Int64Counter("parley.generations.completed",
		metric.WithDescription("Total generations completed naturally."),
	); err != nil {
		return nil, err
	}

	// Pipeline counters.
	if met.LLMChunks, err = m.Int64Counter("parley.llm.chunks",
		metric.WithDescription("Total streamed LLM text chunks relayed to clients."),
	); err != nil {
		return nil, err
	}
	if met.TTSSpans, err = m.Int64Counter("parley.tts.spans",
		metric.WithDescription("Total text spans dispatched for synthesis."),
	); err != nil {
		return nil, err
	}
	if met.TTSErrors, err = m.Int64Counter("parley.tts.errors",
		metric.WithDescription("Total spans whose synthesis failed."),
	); err != nil {
		return nil, err
	}
	if met.STTReconnects, err = m.Int64Counter("parley.stt.reconnects",
		metric.WithDescription("Total STT stream reconnection attempts."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("parley.client.dropped_frames",
		metric.WithDescription("Total outbound client frames shed under backpressure, by kind."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of per-span text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// RecordTTSSpan records one dispatched span together with its synthesis
// latency, and increments the error counter when the span failed.
func (m *Metrics) RecordTTSSpan(ctx context.Context, d time.Duration, err error) {
	m.TTSSpans.Add(ctx, 1)
	m.TTSDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.TTSErrors.Add(ctx, 1)
	}
}

// RecordDroppedFrame records one outbound frame shed under backpressure.
// kind is the frame-kind label (e.g. "interim_transcript", "audio").
func (m *Metrics) RecordDroppedFrame(ctx context.Context, kind string) {
	m.DroppedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordSTTReconnect records one STT reconnection attempt.
func (m *Metrics) RecordSTTReconnect(ctx context.Context) {
	m.STTReconnects.Add(ctx, 1)
}
