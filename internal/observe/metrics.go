// Package observe provides application-wide observability primitives for
// scriptcue: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scriptcue metrics.
const meterName = "github.com/MrWong99/scriptcue"

// Frame results recorded on [Metrics.RelayFrames].
const (
	FrameForwarded = "forwarded"
	FrameDropped   = "dropped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Relay ---

	// ActiveSessions tracks the number of open relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// RelayFrames counts client audio frames. Use with attribute:
	//   attribute.String("result", FrameForwarded|FrameDropped)
	RelayFrames metric.Int64Counter

	// UpstreamConnectDuration tracks how long the upstream ASR socket took
	// to open.
	UpstreamConnectDuration metric.Float64Histogram

	// RelayTranscripts counts transcript events forwarded to clients. Use
	// with attribute:
	//   attribute.String("final", "true"|"false")
	RelayTranscripts metric.Int64Counter

	// RelayErrors counts error events sent to clients. Use with attribute:
	//   attribute.String("code", ...)
	RelayErrors metric.Int64Counter

	// BreakerTransitions counts upstream circuit breaker state changes. Use
	// with attributes:
	//   attribute.String("endpoint", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Alignment ---

	// AlignPasses counts matching passes run by the alignment engine.
	AlignPasses metric.Int64Counter

	// AlignAdvances counts committed line advances. Use with attribute:
	//   attribute.String("reason", ...)
	AlignAdvances metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Relay upgrades
	// are excluded. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("scriptcue.relay.sessions.active",
		metric.WithDescription("Number of open relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.RelayFrames, err = m.Int64Counter("scriptcue.relay.frames",
		metric.WithDescription("Client audio frames by result."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamConnectDuration, err = m.Float64Histogram("scriptcue.relay.upstream.connect.duration",
		metric.WithDescription("Time to open the upstream ASR socket."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RelayTranscripts, err = m.Int64Counter("scriptcue.relay.transcripts",
		metric.WithDescription("Transcript events forwarded to clients."),
	); err != nil {
		return nil, err
	}
	if met.RelayErrors, err = m.Int64Counter("scriptcue.relay.errors",
		metric.WithDescription("Error events sent to clients by code."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("scriptcue.relay.breaker.transitions",
		metric.WithDescription("Upstream circuit breaker transitions by endpoint and new state."),
	); err != nil {
		return nil, err
	}
	if met.AlignPasses, err = m.Int64Counter("scriptcue.align.passes",
		metric.WithDescription("Alignment matching passes."),
	); err != nil {
		return nil, err
	}
	if met.AlignAdvances, err = m.Int64Counter("scriptcue.align.advances",
		metric.WithDescription("Committed teleprompter line advances by reason."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scriptcue.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordFrame records one client audio frame with its result.
func (m *Metrics) RecordFrame(ctx context.Context, result string) {
	m.RelayFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTranscript records one forwarded transcript event.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool) {
	m.RelayTranscripts.Add(ctx, 1, metric.WithAttributes(attribute.String("final", strconv.FormatBool(final))))
}

// RecordRelayError records one error event sent to a client.
func (m *Metrics) RecordRelayError(ctx context.Context, code string) {
	m.RelayErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordAdvance records one committed line advance.
func (m *Metrics) RecordAdvance(ctx context.Context, reason string) {
	m.AlignAdvances.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerTransition records an upstream circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, endpoint, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("state", state),
	))
}
