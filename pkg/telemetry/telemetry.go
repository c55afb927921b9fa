// Package telemetry sets up OpenTelemetry tracing for classreg.
//
// Tracing is configured by the telemetry section of the configuration
// file; the standard variables override it:
//
//	OTEL_ENABLED                 - true enables tracing
//	OTEL_SERVICE_NAME            - service name (default: classreg)
//	OTEL_SERVICE_VERSION         - service version
//	OTEL_EXPORTER_OTLP_ENDPOINT  - collector endpoint
//	OTEL_EXPORTER_OTLP_PROTOCOL  - grpc or http/protobuf
//	OTEL_EXPORTER_OTLP_HEADERS   - k=v pairs, e.g. Authorization=Bearer xxx
//	OTEL_EXPORTER_OTLP_INSECURE  - true disables TLS
//	OTEL_TRACES_SAMPLER          - sampler name
//	OTEL_TRACES_SAMPLER_ARG      - sampler ratio
//	OTEL_RESOURCE_ATTRIBUTES     - extra resource attributes
//
// Packages trace through the global provider with Start and End; spans
// are no-ops until Init installs a provider.
package telemetry

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/classreg/pkg/errors"
)

// ErrorCodeKey is the span attribute holding the error code of a failed
// operation.
const ErrorCodeKey = attribute.Key("classreg.error.code")

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

var installed atomic.Bool

// Enabled reports whether Init installed a tracer provider.
func Enabled() bool {
	return installed.Load()
}

// Init installs a global tracer provider exporting to cfg.Endpoint. A
// disabled configuration installs nothing and returns a no-op shutdown.
func Init(ctx context.Context, cfg *Config) (ShutdownFunc, error) {
	if cfg == nil || !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := buildResource(cfg)
	if err != nil {
		return noopShutdown, err
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(newSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	installed.Store(true)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return func(ctx context.Context) error {
		installed.Store(false)
		return tp.Shutdown(ctx)
	}, nil
}

// Start starts a span named name with the tracer of the given
// instrumentation scope.
func Start(ctx context.Context, scope, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, tagged with its error code, and ends the span.
func End(span trace.Span, err error) {
	if err != nil {
		code := apperrors.GetErrorCode(err)
		span.RecordError(err)
		span.SetAttributes(ErrorCodeKey.String(code))
		span.SetStatus(codes.Error, code)
	}
	span.End()
}
