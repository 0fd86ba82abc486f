// Package observability installs the OTLP trace pipeline used by the
// collector binaries and the simulator.
package observability

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"tapistry/shared/config"
	"tapistry/shared/logx"
)

const shutdownTimeout = 5 * time.Second

type TracerConfig struct {
	ServiceName string
	Version     string
	Env         string
	// Endpoint is empty when tracing is off.
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

func TracerConfigFrom(cfg config.Config, version string) TracerConfig {
	tc := TracerConfig{
		ServiceName: cfg.ServiceName,
		Version:     strings.TrimSpace(version),
		Env:         cfg.Env,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: min(max(cfg.OtelSampleRatio, 0), 1),
	}
	if cfg.OtelEnabled {
		tc.Endpoint = strings.TrimSpace(cfg.OtelEndpoint)
	}
	return tc
}

func (c TracerConfig) resource() *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.DeploymentEnvironment(c.Env),
	}
	if c.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.Version))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
	}
	return res
}

// InitTracer installs a global tracer provider and sends exporter errors to
// l. With no endpoint it returns a no-op shutdown and leaves the default
// provider in place. The returned shutdown flushes pending spans with its
// own deadline.
func InitTracer(ctx context.Context, cfg TracerConfig, l logx.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(cfg.resource()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		l.Warn(context.Background(), "otel_export_failed", "trace export failed",
			slog.String("error_code", "UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
	}))

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}
