package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// useTracer installs an in-memory tracer provider as the global one.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// captureLogs routes the default logger, at debug level, into a JSON buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record %q: %v", buf.String(), err)
	}
	return rec
}

func TestStartSession(t *testing.T) {
	exp := useTracer(t)
	buf := captureLogs(t)

	ctx, span, log := StartSession(context.Background(), "sess-1")
	log.Info("relay: upstream open")
	span.End()

	rec := decodeRecord(t, buf)
	if rec[SessionIDKey] != "sess-1" {
		t.Errorf("%s = %v, want sess-1", SessionIDKey, rec[SessionIDKey])
	}
	if rec["trace_id"] != CorrelationID(ctx) || CorrelationID(ctx) == "" {
		t.Errorf("trace_id = %v, want %q", rec["trace_id"], CorrelationID(ctx))
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "relay.session" || got.SpanKind != trace.SpanKindServer {
		t.Errorf("span = %q kind %v, want relay.session server", got.Name, got.SpanKind)
	}
	found := false
	for _, a := range got.Attributes {
		if a.Key == sessionIDAttr && a.Value.AsString() == "sess-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing %s", got.Attributes, sessionIDAttr)
	}
}

func TestSessionLogger_NoSpan(t *testing.T) {
	buf := captureLogs(t)

	SessionLogger(context.Background(), "sess-2").Warn("relay: keepalive failed")

	rec := decodeRecord(t, buf)
	if rec[SessionIDKey] != "sess-2" {
		t.Errorf("%s = %v, want sess-2", SessionIDKey, rec[SessionIDKey])
	}
	if _, ok := rec["trace_id"]; ok {
		t.Errorf("record %v has a trace_id without a span", rec)
	}
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 20 {
		ctx, span := StartSpan(context.Background(), "recordings.get")
		id := CorrelationID(ctx)
		span.End()
		if len(id) != 32 {
			t.Fatalf("correlation ID %q, want 32 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate correlation ID %s", id)
		}
		seen[id] = true
	}
}
