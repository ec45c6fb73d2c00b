// Package tracing wires an OpenTelemetry TracerProvider for the host
// process, grounded on the reference stack's observability/tracing
// provider: an OTLP/HTTP exporter, a resource carrying the service name,
// and a ratio-based sampler. Per the design note on ambient concerns, the
// host always carries this stack; when OTEL_EXPORTER_OTLP_ENDPOINT is
// unset, the SDK provider is still built and samples spans but has no
// exporter, rather than a hand-rolled stub.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.ServiceVersion))
	}
	return attrs
}

// Config parameterizes the TracerProvider.
type Config struct {
	// Endpoint is the OTLP/HTTP endpoint. Empty disables export; spans
	// are still created and sampled but never leave the process.
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	// SampleRate is the trace sampling ratio, 0..1. Zero means always
	// sample.
	SampleRate float64
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{ServiceName: "pluginhost", Insecure: true, SampleRate: 1.0}
}

// Provider wraps the SDK TracerProvider and its shutdown.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a Provider and installs it as the global tracer
// provider. If cfg.Endpoint is empty, the provider is built without a
// batch exporter: spans are created and sampled (useful for in-process
// span assertions in tests) but nothing is shipped anywhere.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []sdktrace.TracerProviderOption

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("tracing: create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		resourceAttributes(cfg)...,
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}
	opts = append(opts, sdktrace.WithResource(res), sdktrace.WithSampler(sampler(cfg.SampleRate)))

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0, rate >= 1.0:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the provider's named tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// TracerProvider returns the underlying SDK provider.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	return p.tp
}

// Shutdown flushes pending spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
