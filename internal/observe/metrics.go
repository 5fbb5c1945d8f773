// Package observe provides observability primitives for lisper-flow:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lisper-flow
// metrics.
const meterName = "github.com/zordhalo/lisper-flow"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use, the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ASRDuration tracks provider transcription latency (batch) or
	// stream-session lifetime (streaming).
	ASRDuration metric.Float64Histogram

	// EnhanceDuration tracks LLM transcript cleanup latency.
	EnhanceDuration metric.Float64Histogram

	// InjectionDuration tracks per-command keystroke delivery latency.
	InjectionDuration metric.Float64Histogram

	// --- Counters ---

	// Chunks counts audio chunks emitted by the capture pipeline.
	Chunks metric.Int64Counter

	// Segments counts speech segments produced by the VAD gate.
	Segments metric.Int64Counter

	// Transcripts counts ASR results. Use with attribute:
	//   attribute.String("kind", "partial"|"final")
	Transcripts metric.Int64Counter

	// Commands counts typing commands. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// FocusRetries counts focus-request attempts made by the injector.
	FocusRetries metric.Int64Counter

	// ProviderErrors counts ASR and enhancement provider errors. Use with
	// attribute: attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dictation sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for dictation latencies.
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
	if met.ASRDuration, err = m.Float64Histogram("lisperflow.asr.duration",
		metric.WithDescription("Latency of speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnhanceDuration, err = m.Float64Histogram("lisperflow.enhance.duration",
		metric.WithDescription("Latency of LLM transcript cleanup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InjectionDuration, err = m.Float64Histogram("lisperflow.injection.duration",
		metric.WithDescription("Latency of keystroke delivery per command."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Chunks, err = m.Int64Counter("lisperflow.audio.chunks",
		metric.WithDescription("Total audio chunks emitted by the capture pipeline."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("lisperflow.vad.segments",
		metric.WithDescription("Total speech segments produced by the VAD gate."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("lisperflow.asr.transcripts",
		metric.WithDescription("Total ASR results by kind (partial/final)."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("lisperflow.typing.commands",
		metric.WithDescription("Total typing commands by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.FocusRetries, err = m.Int64Counter("lisperflow.typing.focus_retries",
		metric.WithDescription("Total focus-request attempts made by the injector."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lisperflow.provider.errors",
		metric.WithDescription("Total provider errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lisperflow.active_sessions",
		metric.WithDescription("Number of live dictation sessions."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordTranscript records one ASR result by kind ("partial" or "final").
func (m *Metrics) RecordTranscript(ctx context.Context, kind string) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordCommand records one typing command by kind and status
// ("executed", "dropped").
func (m *Metrics) RecordCommand(ctx context.Context, kind, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
