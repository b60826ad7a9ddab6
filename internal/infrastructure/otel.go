package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ServiceName identifies this service in traces
	ServiceName    = "seatlock"
	ServiceVersion = "1.0.0"
)

// TracingProviders holds the configured tracing components
type TracingProviders struct {
	TracerProvider *sdktrace.TracerProvider
	Tracer         trace.Tracer
}

// InitializeTracing sets up the OpenTelemetry tracer provider with a stdout
// exporter. Validation and activation flows create spans against it.
func InitializeTracing(ctx context.Context, logger *slog.Logger) (*TracingProviders, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry tracing initialized",
		slog.String("service", ServiceName),
		slog.String("version", ServiceVersion),
	)

	return &TracingProviders{
		TracerProvider: tp,
		Tracer:         tp.Tracer(ServiceName),
	}, nil
}

// Shutdown flushes and stops the tracer provider
func (p *TracingProviders) Shutdown(ctx context.Context) error {
	if p == nil || p.TracerProvider == nil {
		return nil
	}
	return p.TracerProvider.Shutdown(ctx)
}
