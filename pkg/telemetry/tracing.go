package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the tracer for one package. Until SetupTracing is called the
// global provider is a no-op.
func Tracer(component string) trace.Tracer {
	return otel.Tracer("model-smith/" + component)
}

// SetupTracing installs a provider that writes finished spans to w as
// indented JSON. The returned func flushes and uninstalls it.
func SetupTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		otel.SetTracerProvider(previous)
		return tp.Shutdown(ctx)
	}, nil
}
