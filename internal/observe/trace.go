package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/scriptcue"

// SessionIDKey names the relay session in log records.
const SessionIDKey = "session_id"

// sessionIDAttr names the relay session on spans.
const sessionIDAttr = attribute.Key("scriptcue.session.id")

// Tracer returns the scriptcue tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the scriptcue tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSession starts the span covering one relay session and returns a
// logger that tags every record with the session and trace identifiers.
// The caller ends the span when the session closes.
func StartSession(ctx context.Context, sessionID string) (context.Context, trace.Span, *slog.Logger) {
	ctx, span := StartSpan(ctx, "relay.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(sessionIDAttr.String(sessionID)),
	)
	return ctx, span, SessionLogger(ctx, sessionID)
}

// SessionLogger returns [Logger] for ctx tagged with sessionID.
func SessionLogger(ctx context.Context, sessionID string) *slog.Logger {
	return Logger(ctx).With(slog.String(SessionIDKey, sessionID))
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there
// is none. Clients see it as the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a recording span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
