package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "storefront"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if otel.GetTextMapPropagator() == nil {
		t.Fatal("propagator must be installed")
	}

	_, span := Tracer("test").Start(context.Background(), "noop")
	span.End()
}

func TestSetupWithEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{
		Endpoint:       "127.0.0.1:4318",
		Insecure:       true,
		ServiceName:    "storefront",
		ServiceVersion: "test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Коллектор недоступен: важно лишь, что shutdown не зависает.
	_ = shutdown(ctx)
}

func TestNewResourceMatchesSDKSchema(t *testing.T) {
	res, err := newResource(Config{ServiceName: "storefront", ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := res.SchemaURL(), resource.Default().SchemaURL(); got != want {
		t.Fatalf("schema url = %q, want %q", got, want)
	}

	value, ok := res.Set().Value(semconv.ServiceNameKey)
	if !ok || value.AsString() != "storefront" {
		t.Fatalf("service.name = %q, want storefront", value.AsString())
	}
	value, ok = res.Set().Value(semconv.ServiceVersionKey)
	if !ok || value.AsString() != "1.2.3" {
		t.Fatalf("service.version = %q, want 1.2.3", value.AsString())
	}
}
