// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config holds the OpenTelemetry bootstrap configuration.
type Config struct {
	// ServiceName identifies the service for telemetry data
	ServiceName string

	// ServiceVersion identifies the service version for telemetry data
	ServiceVersion string

	// OTLPEndpoint is the OTLP HTTP collector endpoint (e.g. "localhost:4318")
	OTLPEndpoint string

	// Headers are additional headers sent with OTLP requests
	Headers map[string]string

	// Insecure disables TLS for OTLP export
	Insecure bool

	// TracingEnabled controls whether traces are exported
	TracingEnabled bool

	// MetricsEnabled controls whether OTLP metrics are exported
	MetricsEnabled bool

	// SamplingRate is the trace sampling ratio (0.0 to 1.0)
	SamplingRate float64

	// EnablePrometheusMetricsPath adds a Prometheus reader and exposes its
	// handler for the host to mount at /metrics
	EnablePrometheusMetricsPath bool
}

// Provider bundles the tracer and meter providers plus their shutdown. With
// an empty Config every accessor returns a no-op implementation, so hosts
// can wire telemetry unconditionally.
type Provider struct {
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	prometheusHandler http.Handler
	shutdownFuncs     []func(context.Context) error
}

// NewProvider builds the providers described by config.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if err := validate(config); err != nil {
		return nil, err
	}

	p := &Provider{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}

	wantOTLPMetrics := config.MetricsEnabled && config.OTLPEndpoint != ""
	wantTracing := config.TracingEnabled && config.OTLPEndpoint != ""
	if !wantOTLPMetrics && !wantTracing && !config.EnablePrometheusMetricsPath {
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var readers []sdkmetric.Reader
	if wantOTLPMetrics {
		reader, err := newOTLPMetricReader(ctx, config)
		if err != nil {
			return nil, err
		}
		readers = append(readers, reader)
	}
	if config.EnablePrometheusMetricsPath {
		registry := prometheus.NewRegistry()
		reader, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus reader: %w", err)
		}
		readers = append(readers, reader)
		p.prometheusHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	if len(readers) > 0 {
		opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		for _, reader := range readers {
			opts = append(opts, sdkmetric.WithReader(reader))
		}
		mp := sdkmetric.NewMeterProvider(opts...)
		p.meterProvider = mp
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
	}

	if wantTracing {
		exporter, err := newOTLPTraceExporter(ctx, config)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
		)
		p.tracerProvider = tp
		p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	}

	return p, nil
}

func validate(config Config) error {
	if config.SamplingRate < 0 || config.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %f", config.SamplingRate)
	}
	if (config.MetricsEnabled || config.TracingEnabled) &&
		config.OTLPEndpoint == "" && !config.EnablePrometheusMetricsPath {
		return errors.New("OTLP endpoint is required when OTLP metrics or tracing are enabled")
	}
	return nil
}

func newOTLPMetricReader(ctx context.Context, config Config) (sdkmetric.Reader, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.OTLPEndpoint),
	}
	if len(config.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(config.Headers))
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter), nil
}

func newOTLPTraceExporter(ctx context.Context, config Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
	}
	if len(config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.Headers))
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

// TracerProvider returns the tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MeterProvider returns the meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// PrometheusHandler returns the /metrics handler, or nil when the Prometheus
// path is disabled.
func (p *Provider) PrometheusHandler() http.Handler {
	return p.prometheusHandler
}

// Shutdown flushes and stops all providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
