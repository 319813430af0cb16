// Package observe provides application-wide observability primitives shared
// by all four services: OpenTelemetry metrics, distributed tracing, and
// structured logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all metrics emitted
// by any of the four services.
const meterName = "github.com/vikram-naik/ws-stt-llm"

// Metrics holds all OpenTelemetry metric instruments shared across
// Signaling, Relay, Transcriber, and Insight. All fields are safe for
// concurrent use — the underlying OTel types handle their own
// synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks per-chunk recognizer invocation latency.
	RecognitionDuration metric.Float64Histogram

	// InsightDuration tracks Insight inference latency.
	InsightDuration metric.Float64Histogram

	// FanoutDuration tracks Signaling's control-event fan-out latency to
	// Relay and Transcriber.
	FanoutDuration metric.Float64Histogram

	// --- Counters ---

	// EventsProcessed counts client events handled, by service and event name.
	EventsProcessed metric.Int64Counter

	// FramesForwarded counts Relay audio frames forwarded to a live peer.
	FramesForwarded metric.Int64Counter

	// FramesBuffered counts Relay audio frames absorbed into a sender's
	// peer-miss overflow buffer.
	FramesBuffered metric.Int64Counter

	// FramesDropped counts Relay audio frames dropped because the overflow
	// buffer was already full.
	FramesDropped metric.Int64Counter

	// --- Error counters ---

	// FanoutErrors counts failed control-event deliveries to a downstream
	// service (Relay, Transcriber, or Insight).
	FanoutErrors metric.Int64Counter

	// RecognizerErrors counts per-chunk recognizer failures.
	RecognizerErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of call records currently held by the
	// Signaling process, from call_user until rejection, hang-up or
	// disconnect.
	ActiveCalls metric.Int64UpDownCounter

	// RegisteredUsers tracks the number of users currently registered on
	// Signaling, across both cohorts.
	RegisteredUsers metric.Int64UpDownCounter

	// QueueDepth tracks the combined depth of Transcriber per-call
	// recognition and insight queues. Use with
	// attribute.String("queue", "recognition"|"insight").
	QueueDepth metric.Int64UpDownCounter

	// BreakerState tracks the current [resilience.State] of a downstream
	// circuit breaker (0=closed, 1=open, 2=half-open), labelled by target
	// ("relay", "transcriber", "insight"). Updated via
	// [Metrics.RecordBreakerState] from a breaker's OnStateChange hook.
	BreakerState metric.Int64Gauge
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

	if met.RecognitionDuration, err = m.Float64Histogram("wsstt.recognition.duration",
		metric.WithDescription("Latency of a single recognizer chunk invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InsightDuration, err = m.Float64Histogram("wsstt.insight.duration",
		metric.WithDescription("Latency of Insight inference requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FanoutDuration, err = m.Float64Histogram("wsstt.fanout.duration",
		metric.WithDescription("Latency of Signaling control-event fan-out to Relay/Transcriber."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.EventsProcessed, err = m.Int64Counter("wsstt.events.processed",
		metric.WithDescription("Total client events processed, by service and event name."),
	); err != nil {
		return nil, err
	}
	if met.FramesForwarded, err = m.Int64Counter("wsstt.relay.frames_forwarded",
		metric.WithDescription("Total audio frames forwarded to a live peer by Relay."),
	); err != nil {
		return nil, err
	}
	if met.FramesBuffered, err = m.Int64Counter("wsstt.relay.frames_buffered",
		metric.WithDescription("Total audio frames absorbed into a peer-miss overflow buffer."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("wsstt.relay.frames_dropped",
		metric.WithDescription("Total audio frames dropped because the overflow buffer was full."),
	); err != nil {
		return nil, err
	}

	if met.FanoutErrors, err = m.Int64Counter("wsstt.fanout.errors",
		metric.WithDescription("Total failed control-event deliveries to a downstream service."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerErrors, err = m.Int64Counter("wsstt.recognizer.errors",
		metric.WithDescription("Total per-chunk recognizer failures."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("wsstt.active_calls",
		metric.WithDescription("Number of call records currently held by Signaling."),
	); err != nil {
		return nil, err
	}
	if met.RegisteredUsers, err = m.Int64UpDownCounter("wsstt.registered_users",
		metric.WithDescription("Number of users currently registered on Signaling."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("wsstt.queue_depth",
		metric.WithDescription("Depth of a Transcriber per-call queue."),
	); err != nil {
		return nil, err
	}

	if met.BreakerState, err = m.Int64Gauge("wsstt.breaker.state",
		metric.WithDescription("Current circuit breaker state per downstream target: 0=closed, 1=open, 2=half-open."),
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

// RecordEvent is a convenience method that increments EventsProcessed for a
// given service and event name.
func (m *Metrics) RecordEvent(ctx context.Context, service, event string) {
	m.EventsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("event", event),
		),
	)
}

// RecordFanoutError is a convenience method that increments FanoutErrors for
// a given downstream target.
func (m *Metrics) RecordFanoutError(ctx context.Context, target string) {
	m.FanoutErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("target", target)),
	)
}

// RecordQueueDepth adjusts the QueueDepth gauge for one per-call queue
// ("recognition" or "insight") by delta.
func (m *Metrics) RecordQueueDepth(ctx context.Context, queue string, delta int64) {
	m.QueueDepth.Add(ctx, delta,
		metric.WithAttributes(attribute.String("queue", queue)),
	)
}

// RecordBreakerState publishes the current circuit breaker state for a
// downstream target. Intended to be called from a
// [resilience.CircuitBreakerConfig.OnStateChange] callback.
func (m *Metrics) RecordBreakerState(ctx context.Context, target string, state int64) {
	m.BreakerState.Record(ctx, state,
		metric.WithAttributes(attribute.String("target", target)),
	)
}
