package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectTraceHeadersAppends(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("e-1")}})
	if HeaderValue(headers, "event_id") != "e-1" {
		t.Fatal("existing header lost")
	}
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("traceparent not injected: %#v", headers)
	}

	out := ExtractTraceContext(context.Background(), kafka.Message{Headers: headers})
	if got := trace.SpanContextFromContext(out).TraceID(); got != traceID {
		t.Fatalf("trace id mismatch: %s", got)
	}
}

func TestEventMetaHeaders(t *testing.T) {
	in := EventMeta{EventID: "e-7", EventType: "school.seats.changed.v1", AggregateType: "account"}
	headers := in.Headers()
	if len(headers) != 3 {
		t.Fatalf("expected 3 headers, got %#v", headers)
	}
	if got := ExtractEventMeta(kafka.Message{Headers: headers}); got != in {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if n := len((EventMeta{EventID: "e-8"}).Headers()); n != 1 {
		t.Fatalf("empty fields must be skipped, got %d headers", n)
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "billing.invoice.issued.v1", Key: []byte("k")})
	if meta.EventID != "k" || meta.EventType != "billing.invoice.issued.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error when no brokers are configured")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers("a:9092, ,b:9092")
	if len(got) != 2 || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %#v", got)
	}
}
