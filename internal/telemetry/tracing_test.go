package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	provider, shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	_, span := provider.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("expected a non-recording span without an endpoint")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestNewProviderTagsServiceName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := NewProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := provider.Tracer("test").Start(context.Background(), "operation")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	found := false
	for _, attr := range spans[0].Resource().Attributes() {
		if string(attr.Key) == "service.name" && attr.Value.AsString() == serviceName {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected service.name resource attribute, got %v", spans[0].Resource().Attributes())
	}
}
