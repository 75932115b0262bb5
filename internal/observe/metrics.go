// Package observe provides the observability primitives for voxconsole:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus exporter bridge installed by [InitProvider]. A
// package-level [DefaultMetrics] instance backs production code; tests build
// their own with [NewMetrics] and a [sdkmetric.ManualReader].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every voxconsole instrument.
const meterName = "github.com/MrWong99/voxconsole"

// Metrics holds every instrument. The OTel types synchronise themselves.
type Metrics struct {
	// --- Latency histograms ---

	// HandshakeDuration tracks dial plus session.created.
	HandshakeDuration metric.Float64Histogram

	// ProbeLatency tracks ping/pong round trips.
	ProbeLatency metric.Float64Histogram

	// --- Counters ---

	// SessionTransitions counts status transitions. Use with attribute:
	//   attribute.String("status", ...)
	SessionTransitions metric.Int64Counter

	// ReconnectAttempts counts reconnection dials.
	ReconnectAttempts metric.Int64Counter

	// Interruptions counts live connections lost.
	Interruptions metric.Int64Counter

	// SessionErrors counts classified failures. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// VADSegments counts segmenter events. Use with attributes:
	//   attribute.String("event", ...), attribute.String("mode", ...)
	VADSegments metric.Int64Counter

	// TranscriptEntries counts entries accepted into the log. Use with
	// attribute:
	//   attribute.String("speaker", ...)
	TranscriptEntries metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a session is live or starting.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks console API latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// EventStreams is the number of open /v1/events subscribers.
	EventStreams metric.Int64UpDownCounter

	// EventsDropped counts session events not delivered to a slow
	// /v1/events subscriber.
	EventsDropped metric.Int64Counter
}

// latencyBuckets are histogram boundaries in seconds for network round trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.HandshakeDuration, err = m.Float64Histogram("voxconsole.handshake.duration",
		metric.WithDescription("Time from dial to session.created."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProbeLatency, err = m.Float64Histogram("voxconsole.probe.latency",
		metric.WithDescription("Round-trip time of ping/pong probes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SessionTransitions, err = m.Int64Counter("voxconsole.session.transitions",
		metric.WithDescription("Session status transitions by target status."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voxconsole.reconnect.attempts",
		metric.WithDescription("Reconnection dials."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxconsole.session.interruptions",
		metric.WithDescription("Live connections lost to heartbeat timeout or transport drop."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voxconsole.session.errors",
		metric.WithDescription("Classified session failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.VADSegments, err = m.Int64Counter("voxconsole.vad.segments",
		metric.WithDescription("VAD segmenter events by event type and mode."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("voxconsole.transcript.entries",
		metric.WithDescription("Transcript entries accepted by speaker."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxconsole.active_sessions",
		metric.WithDescription("Number of live or starting voice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxconsole.http.request.duration",
		metric.WithDescription("Console API request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.EventStreams, err = m.Int64UpDownCounter("voxconsole.console.event_streams",
		metric.WithDescription("Open session event streams."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("voxconsole.console.events.dropped",
		metric.WithDescription("Session events dropped for slow stream subscribers."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition counts a transition into status.
func (m *Metrics) RecordTransition(ctx context.Context, status string) {
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordError counts a failure of kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordVADSegment counts a segmenter event.
func (m *Metrics) RecordVADSegment(ctx context.Context, event, mode string) {
	m.VADSegments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event", event),
			attribute.String("mode", mode),
		),
	)
}

// RecordTranscriptEntry counts an accepted entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}
