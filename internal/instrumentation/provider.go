package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider encapsulates the OpenTelemetry meter and tracer providers.
type Provider struct {
	config             Config
	meterProvider      *metric.MeterProvider
	tracerProvider     *sdktrace.TracerProvider
	metrics            *Metrics
	prometheusExporter *prometheus.Exporter
	enabled            bool
}

// NewProvider creates a new OpenTelemetry provider with the given
// configuration. When instrumentation is disabled the returned provider is
// inert: Metrics() returns a recorder that records nothing and Tracer()
// returns a no-op tracer.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if !config.Enabled || (config.MetricsExporter == ExporterNone && config.TracingExporter == ExporterNone) {
		return &Provider{config: config, enabled: false}, nil
	}

	resourceAttrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if hostname, err := os.Hostname(); err == nil {
		resourceAttrs = append(resourceAttrs, semconv.ServiceInstanceID(hostname))
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := &Provider{
		config:  config,
		enabled: true,
	}

	if err := provider.initMeterProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
	}

	if err := provider.initTracerProvider(ctx, res); err != nil {
		if provider.meterProvider != nil {
			if shutdownErr := provider.meterProvider.Shutdown(ctx); shutdownErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to shutdown meter provider during cleanup: %w", shutdownErr))
			}
		}
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	if provider.meterProvider != nil {
		otel.SetMeterProvider(provider.meterProvider)
		meter := provider.meterProvider.Meter(config.ServiceName)
		provider.metrics, err = NewMetrics(meter)
		if err != nil {
			_ = provider.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
		}
	}
	if provider.tracerProvider != nil {
		otel.SetTracerProvider(provider.tracerProvider)
	}

	return provider, nil
}

// initMeterProvider initializes the meter provider based on configuration.
func (p *Provider) initMeterProvider(ctx context.Context, res *resource.Resource) error {
	var reader metric.Reader

	switch p.config.MetricsExporter {
	case ExporterNone, "":
		return nil

	case ExporterPrometheus:
		// The prometheus exporter acts as the reader; the collected
		// metrics surface through the global Prometheus registry.
		promExporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		p.prometheusExporter = promExporter
		reader = promExporter

	case ExporterOTLP:
		if p.config.OTLPEndpoint == "" {
			return fmt.Errorf("OTLP endpoint is required for OTLP metrics exporter; set OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(p.config.OTLPEndpoint),
		}
		if p.config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exporter)

	case ExporterStdout:
		slog.Warn("stdout metrics exporter enabled - for development/debugging only",
			"component", "instrumentation",
			"exporter", ExporterStdout,
		)
		exporter, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exporter)

	default:
		return fmt.Errorf("unsupported metrics exporter: %s", p.config.MetricsExporter)
	}

	p.meterProvider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	)
	return nil
}

// initTracerProvider initializes the tracer provider based on configuration.
func (p *Provider) initTracerProvider(ctx context.Context, res *resource.Resource) error {
	if p.config.TracingExporter == ExporterNone || p.config.TracingExporter == "" {
		return nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch p.config.TracingExporter {
	case ExporterOTLP:
		if p.config.OTLPEndpoint == "" {
			return fmt.Errorf("OTLP endpoint is required for OTLP tracing exporter")
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(p.config.OTLPEndpoint),
		}
		if p.config.OTLPInsecure {
			slog.Warn("OTLP insecure transport enabled - spans may contain message ids",
				"component", "instrumentation",
				"endpoint", p.config.OTLPEndpoint,
			)
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}

	case ExporterStdout:
		slog.Warn("stdout traces exporter enabled - for development/debugging only",
			"component", "instrumentation",
			"exporter", ExporterStdout,
		)
		exporter, err = stdouttrace.New()
		if err != nil {
			return fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}

	default:
		return fmt.Errorf("unsupported tracing exporter: %s", p.config.TracingExporter)
	}

	// A triage run is a single short-lived batch; sample everything.
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return nil
}

// Metrics returns the metrics recorder. It is nil when the provider is
// disabled, which the recorder itself tolerates.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Tracer returns a tracer for creating spans.
func (p *Provider) Tracer(name string) trace.Tracer {
	if !p.enabled || p.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tracerProvider.Tracer(name)
}

// PrometheusHandler returns the HTTP handler for the Prometheus scrape
// endpoint, or nil when the prometheus exporter is not configured.
func (p *Provider) PrometheusHandler() http.Handler {
	if p.prometheusExporter == nil {
		return nil
	}
	return promhttp.Handler()
}

// Enabled reports whether instrumentation is active.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown gracefully shuts down the provider, flushing pending telemetry.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}

	var errs []error
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
