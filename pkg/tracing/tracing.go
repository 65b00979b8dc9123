package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/mike-walpole/d2g/pkg/tracing/exporters"
)

var tracer trace.Tracer

// SetTracer sets the tracer to be used for tracing.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// Setup installs a global tracer provider for the service and returns its shutdown func.
// With otlp disabled spans are recorded but dropped by the console exporter.
func Setup(ctx context.Context, serviceName string, otlpEnabled bool, otlpConfig exporters.OTLPConfig) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if otlpEnabled {
		otlpExporter, err := exporters.NewOTLPExporter(ctx, otlpConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		exporter = otlpExporter
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(serviceName))

	return provider.Shutdown, nil
}

// GetActiveSpan returns the active span from the context.
func GetActiveSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return span
}

// StartSpan starts a new span with the given name and returns the context and span.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error, description string) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, description)
}

// GetTraceParent returns the W3C traceparent header for the active span.
func GetTraceParent(ctx context.Context) string {
	return carrierValue(ctx, "traceparent")
}

// GetTraceState returns the W3C tracestate header for the active span.
func GetTraceState(ctx context.Context) string {
	return carrierValue(ctx, "tracestate")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := GetActiveSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the span ID from the context.
func GetSpanID(ctx context.Context) string {
	span := GetActiveSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().SpanID().String()
}

func carrierValue(ctx context.Context, key string) string {
	if GetActiveSpan(ctx) == nil {
		return ""
	}

	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)

	return carrier.Get(key)
}
