// Package observer provides OpenTelemetry-based tracing for durex engines.
//
// Call Init once at process startup to configure a TracerProvider exporting
// to an OTLP/HTTP collector (configured via the standard OTEL_EXPORTER_OTLP_*
// env vars), then pass observer.NewTracer() as durex.Options.Tracer.
package observer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/sdk/resource"
)

const scopeName = "github.com/corestep/durex/observer"

// Init configures the global OTEL TracerProvider with an OTLP/HTTP batch
// exporter and returns a shutdown function that must be called on process
// exit to flush pending spans.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
