// Package telemetry wires claimd's opt-in OpenTelemetry export.
//
// Everything is off unless CLAIMD_OTEL_ENABLED=true; the disabled path
// installs no-op providers and costs nothing at runtime. When enabled, spans
// and metrics go to stdout (CLAIMD_OTEL_STDOUT=true), to an OTLP gRPC
// collector (OTEL_EXPORTER_OTLP_ENDPOINT, e.g. localhost:4317), or both.
// Enabled with neither destination configured falls back to stdout so the
// data is not silently dropped.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/swarmhq/claimd"

// Enabled reports whether telemetry is active (CLAIMD_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("CLAIMD_OTEL_ENABLED") == "true"
}

type sinks struct {
	stdout   bool
	endpoint string
}

func sinksFromEnv() sinks {
	s := sinks{
		stdout:   os.Getenv("CLAIMD_OTEL_STDOUT") == "true",
		endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if !s.stdout && s.endpoint == "" {
		s.stdout = true
	}
	return s
}

var shutdownFns []func(context.Context) error

// Init installs the global trace and meter providers. Disabled runs get
// no-op providers; enabled runs get the exporters selected by the
// environment.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	out := sinksFromEnv()

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if out.stdout {
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("telemetry: stdout traces: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spans))

		meas, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("telemetry: stdout metrics: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(meas, sdkmetric.WithInterval(15*time.Second))))
	}

	if out.endpoint != "" {
		spans, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(out.endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("telemetry: otlp traces: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spans))

		meas, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(out.endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("telemetry: otlp metrics: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(meas, sdkmetric.WithInterval(30*time.Second))))
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	mp := sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Tracer returns a tracer with the given instrumentation name, defaulting to
// the module scope.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = scopeName
	}
	return otel.Tracer(name)
}

// Meter returns a meter with the given instrumentation name, defaulting to
// the module scope.
func Meter(name string) metric.Meter {
	if name == "" {
		name = scopeName
	}
	return otel.Meter(name)
}

// Shutdown flushes and stops the installed providers. Defer at process exit
// with a short-lived context.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}
