// Package tracing sets up OpenTelemetry with a Jaeger collector exporter.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Tracer is nil until Init or InitWithExporter succeeds.
	Tracer trace.Tracer

	tracerProvider *tracesdk.TracerProvider
)

// Init exports to the Jaeger collector at endpoint, for example
// "http://jaeger:14268/api/traces". An empty endpoint leaves tracing off.
func Init(serviceName, serviceVersion, endpoint string, sampleRatio float64) error {
	if endpoint == "" {
		return nil
	}
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return fmt.Errorf("failed to create jaeger exporter: %w", err)
	}
	InitWithExporter(serviceName, serviceVersion, exporter, sampleRatio)
	return nil
}

// InitWithExporter installs a provider that batches spans into exporter.
func InitWithExporter(serviceName, serviceVersion string, exporter tracesdk.SpanExporter, sampleRatio float64) {
	tracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(newResource(serviceName, serviceVersion)),
		tracesdk.WithSampler(sampler(sampleRatio)),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Tracer = tracerProvider.Tracer(serviceName)
}

// newResource describes this daemon process.
func newResource(serviceName, serviceVersion string) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
		semconv.ProcessPID(os.Getpid()),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(host))
	}
	own := resource.NewWithAttributes(semconv.SchemaURL, attrs...)
	merged, err := resource.Merge(resource.Default(), own)
	if err != nil {
		// Schema URL conflict with the SDK default.
		return own
	}
	return merged
}

func sampler(ratio float64) tracesdk.Sampler {
	if ratio > 0 && ratio < 1 {
		return tracesdk.ParentBased(tracesdk.TraceIDRatioBased(ratio))
	}
	return tracesdk.AlwaysSample()
}

// StartSpan starts a span named name. Before Init it returns the span
// already in ctx, a no-op span when there is none.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans and stops the provider.
func Shutdown(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	err := tracerProvider.Shutdown(ctx)
	tracerProvider = nil
	Tracer = nil
	return err
}
