package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// TraceEnv enables the stdout trace exporter when set.
const TraceEnv = "LOBBY_TRACE"

// InitTracing wires the OpenTelemetry trace provider. Without
// LOBBY_TRACE in the environment the default no-op provider stays
// active and the returned shutdown does nothing.
func InitTracing(serviceName, version string, logger zerolog.Logger) (func(context.Context) error, error) {
	if os.Getenv(TraceEnv) == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	logger.Info().Str("service", serviceName).Str("version", version).Msg("tracing initialized")

	return tp.Shutdown, nil
}
