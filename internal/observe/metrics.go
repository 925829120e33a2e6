// Package observe provides application-wide observability primitives for
// Loquax: OpenTelemetry metrics, tracing, and structured logging helpers.
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

// meterName is the instrumentation scope name used for all Loquax metrics.
const meterName = "github.com/MrWong99/loquax"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency from confirmed silence to
	// synthesised reply.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("status", ...) — "completed" or "failed".
	Turns metric.Int64Counter

	// SpeechEvents counts turn-detector transitions. Use with attribute:
	//   attribute.String("event", ...) — "speech_started" or "turn_ended".
	SpeechEvents metric.Int64Counter

	// DroppedFrames counts capture frames evicted from the queue because the
	// consumer fell behind. Use with attribute:
	//   attribute.String("reason", ...) — e.g. "queue_full".
	DroppedFrames metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns tracks whether a turn pipeline is currently in flight
	// (0 or 1 under the serial orchestrator).
	ActiveTurns metric.Int64UpDownCounter
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

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("loquax.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("loquax.llm.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("loquax.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("loquax.turn.duration",
		metric.WithDescription("End-to-end turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("loquax.turns",
		metric.WithDescription("Total turns by status."),
	); err != nil {
		return nil, err
	}
	if met.SpeechEvents, err = m.Int64Counter("loquax.speech.events",
		metric.WithDescription("Turn-detector transitions by event kind."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("loquax.frames.dropped",
		metric.WithDescription("Capture frames evicted from a full frame queue."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("loquax.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTurns, err = m.Int64UpDownCounter("loquax.active_turns",
		metric.WithDescription("Number of turn pipelines currently in flight."),
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

// RecordTurn records a turn completion with the given status
// ("completed" or "failed").
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSpeechEvent records a turn-detector transition
// ("speech_started" or "turn_ended").
func (m *Metrics) RecordSpeechEvent(ctx context.Context, event string) {
	m.SpeechEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
