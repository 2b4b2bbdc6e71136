package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "upload.Merge")
	AddTag(ctx, "upload.fingerprint", "9e107d9d372bb6826bd81d3542a419d6")
	AddTag(ctx, "upload.chunks", 3)
	SetError(ctx, errors.New("complete rejected"))

	if id := GetTraceID(ctx); len(id) != 32 {
		t.Errorf("expected 32-char trace id, got %q", id)
	}
	if carrier := InjectContext(ctx); carrier["traceparent"] == "" {
		t.Errorf("expected traceparent header, got %v", carrier)
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "upload.Merge" {
		t.Errorf("unexpected span name %q", s.Name())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status())
	}
	if len(s.Attributes()) != 2 {
		t.Errorf("expected 2 attributes, got %v", s.Attributes())
	}
}

func TestHelpersWithoutSpan(t *testing.T) {
	ctx := context.Background()
	AddTag(ctx, "k", "v")
	SetError(ctx, errors.New("ignored"))
	SetError(ctx, nil)
	if id := GetTraceID(ctx); id != "" {
		t.Errorf("expected empty trace id, got %q", id)
	}
}
