package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTracesPath    = "/v1/traces"
	defaultExportTimeout = 10 * time.Second
	defaultMaxQueueSize  = 2048
)

// Config описывает экспорт трейсов по OTLP/HTTP.
type Config struct {
	// Endpoint вида host:port. Пустое значение отключает экспорт.
	Endpoint       string
	URLPath        string
	Insecure       bool
	Headers        map[string]string
	ServiceName    string
	ServiceVersion string
}

// Setup настраивает глобальный TracerProvider и пропагатор контекста.
// Без Endpoint возвращает no-op shutdown: спаны создаются глобальным no-op провайдером.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.URLPath == "" {
		cfg.URLPath = defaultTracesPath
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithURLPath(cfg.URLPath),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(defaultExportTimeout),
			sdktrace.WithMaxQueueSize(defaultMaxQueueSize),
		)),
	)
	otel.SetTracerProvider(provider)

	return func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}, nil
}

// newResource дополняет ресурс SDK именем и версией сервиса.
// Версия semconv должна совпадать со схемой resource.Default(), иначе Merge вернёт ошибку.
func newResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// Tracer возвращает именованный трейсер из глобального провайдера.
func Tracer(name string) trace.Tracer {
	return otel.Tracer("github.com/vladislavdragonenkov/storefront/" + name)
}
