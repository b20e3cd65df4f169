package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := []kafka.Header{{Key: "x-app", Value: []byte("order")}}
	InjectTraceContext(ctx, &headers)
	if len(headers) != 2 {
		t.Fatalf("headers = %v", headers)
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	if got.TraceID() != traceID || got.SpanID() != spanID {
		t.Fatalf("extracted %v", got)
	}
}

func TestKafkaHeaderCarrierSetReplaces(t *testing.T) {
	c := KafkaHeaderCarrier{{Key: "traceparent", Value: []byte("old")}}
	c.Set("traceparent", "new")
	if len(c) != 1 || c.Get("traceparent") != "new" {
		t.Fatalf("carrier = %v", c)
	}
	if c.Get("missing") != "" {
		t.Fatal("missing key should be empty")
	}
}

type captureWriter struct{ msgs []kafka.Message }

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestFailureHandlerAddsOrigin(t *testing.T) {
	w := &captureWriter{}
	msg := kafka.Message{Topic: "order-notifications", Partition: 2, Offset: 41, Key: []byte("A-1"), Value: []byte("{")}
	NewFailureHandler(w).Handle(context.Background(), msg, context.DeadlineExceeded)

	if len(w.msgs) != 1 {
		t.Fatalf("dlt writes = %d", len(w.msgs))
	}
	headers := map[string]string{}
	for _, h := range w.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers[HeaderOriginalTopic] != "order-notifications" || headers[HeaderOriginalPartition] != "2" || headers[HeaderOriginalOffset] != "41" {
		t.Fatalf("headers = %v", headers)
	}
	if headers[HeaderExceptionMessage] != context.DeadlineExceeded.Error() {
		t.Fatalf("exception message = %q", headers[HeaderExceptionMessage])
	}
	if string(w.msgs[0].Key) != "A-1" {
		t.Fatalf("key = %s", w.msgs[0].Key)
	}
}
