// Package tracing configures the process-wide OpenTelemetry tracer provider.
// It is a no-op (traces are dropped) unless OTEL_EXPORTER_OTLP_ENDPOINT is set,
// matching the teacher's convention of making tracing opt-in for local development.
package tracing

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	initOnce sync.Once
	provider *sdktrace.TracerProvider
)

// Init configures the global tracer provider for serviceName. It returns a
// shutdown func that flushes and closes the exporter. Safe to call multiple
// times; only the first call takes effect.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	var initErr error
	initOnce.Do(func() {
		exporter, err := otlptracehttp.New(ctx)
		if err != nil {
			initErr = fmt.Errorf("failed to create otlp exporter: %w", err)
			return
		}

		res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
			semconv.ServiceNameKey.String(serviceName),
		))
		if err != nil {
			initErr = fmt.Errorf("failed to build otel resource: %w", err)
			return
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	if initErr != nil {
		return nil, initErr
	}

	return func(shutdownCtx context.Context) error {
		if provider == nil {
			return nil
		}
		return provider.Shutdown(shutdownCtx)
	}, nil
}

// Tracer returns a named tracer from the global provider. Before Init is
// called (or when tracing is disabled) this returns a no-op tracer.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
