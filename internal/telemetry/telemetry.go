// Package telemetry provides OpenTelemetry instrumentation for snapwarden.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yairfalse/snapwarden/internal/config"
)

// Provider wraps OTEL tracer and meter providers. Metrics are always
// readable through the Prometheus registry and pushed over OTLP when an
// endpoint is configured.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *promclient.Registry
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	actions        metric.Int64Counter
	actionDuration metric.Float64Histogram
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
	instances      metric.Int64Counter
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{registry: promclient.NewRegistry()}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("snapwarden")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	promExporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("snapwarden")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.actions, err = p.meter.Int64Counter(
		"snapwarden_actions_total",
		metric.WithDescription("Cloud actions executed, by operation, action and outcome"),
	)
	if err != nil {
		return fmt.Errorf("create actions: %w", err)
	}

	p.actionDuration, err = p.meter.Float64Histogram(
		"snapwarden_action_duration_seconds",
		metric.WithDescription("Duration of individual cloud actions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create action_duration: %w", err)
	}

	p.runs, err = p.meter.Int64Counter(
		"snapwarden_runs_total",
		metric.WithDescription("Completed runs, by operation and status"),
	)
	if err != nil {
		return fmt.Errorf("create runs: %w", err)
	}

	p.runDuration, err = p.meter.Float64Histogram(
		"snapwarden_run_duration_seconds",
		metric.WithDescription("Duration of whole runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration: %w", err)
	}

	p.instances, err = p.meter.Int64Counter(
		"snapwarden_instances_total",
		metric.WithDescription("Instances processed, by operation and outcome"),
	)
	if err != nil {
		return fmt.Errorf("create instances: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// MeterProvider returns the SDK meter provider backing Meter.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// Registry returns the Prometheus registry the metrics are exported to.
func (p *Provider) Registry() *promclient.Registry {
	return p.registry
}

// MetricsHandler serves the registry in the Prometheus text format.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordAction records one executed cloud action.
func (p *Provider) RecordAction(ctx context.Context, operation, action, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	)
	p.actions.Add(ctx, 1, attrs)
	p.actionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRun records a finished run and its per-instance tallies.
func (p *Provider) RecordRun(ctx context.Context, operation string, succeeded, failed, skipped int, d time.Duration) {
	status := "success"
	if failed > 0 {
		status = "failed"
	}
	p.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
	p.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))

	for outcome, n := range map[string]int{"success": succeeded, "failed": failed, "skipped": skipped} {
		if n == 0 {
			continue
		}
		p.instances.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
