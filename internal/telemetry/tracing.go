// Package telemetry configures OpenTelemetry tracing for the correlator.
//
// One span covers the rule DAG of an alert, with a child span per rule
// and one for the aggregation step. Custom attributes use the
// `correlator.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "correlator/engine"
	serviceName = "correlator"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled and the global noop provider stays in place.
// The returned shutdown function must be called on exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartAlertSpan creates the parent span for the rules of one alert.
func StartAlertSpan(ctx context.Context, alertID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "correlator.alert",
		trace.WithAttributes(
			attribute.String("correlator.alert_id", alertID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartRuleSpan creates a child span for one rule execution.
func StartRuleSpan(ctx context.Context, rule, alertID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "correlator.rule",
		trace.WithAttributes(
			attribute.String("correlator.rule", rule),
			attribute.String("correlator.alert_id", alertID),
		),
	)
}

// StartAggregationSpan creates a span for incident aggregation.
func StartAggregationSpan(ctx context.Context, alertID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "correlator.aggregate",
		trace.WithAttributes(
			attribute.String("correlator.alert_id", alertID),
		),
	)
}

// EndAggregationSpan records the aggregation outcome and ends the span.
func EndAggregationSpan(span trace.Span, outcome string, corrEventID int64, err error) {
	span.SetAttributes(
		attribute.String("correlator.outcome", outcome),
		attribute.Int64("correlator.correvent_id", corrEventID),
	)
	EndSpan(span, err)
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
