package instrumentation

import (
	"fmt"
	"os"
	"strconv"
)

// Exporter types.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Pipeline outcome values used as metric labels.
const (
	OutcomeMarkedRead    = "marked_read"
	OutcomeKeptUnread    = "kept_unread"
	OutcomeUnparsable    = "unparsable"
	OutcomeOracleError   = "oracle_error"
	OutcomeMarkFailed    = "mark_failed"
	OutcomeWouldMarkRead = "would_mark_read"
)

// Status values used as metric labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the name of the service (default: inboxtriage).
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Enabled determines if instrumentation is active (default: true).
	// Set INSTRUMENTATION_ENABLED=false to disable metrics and tracing.
	Enabled bool

	// MetricsExporter specifies the metrics exporter type.
	// Options: "prometheus", "otlp", "stdout", "none" (default: "none").
	// The prometheus exporter is only useful together with --metrics-addr
	// or the serve command, which expose the scrape endpoint.
	MetricsExporter string

	// TracingExporter specifies the tracing exporter type.
	// Options: "otlp", "stdout", "none" (default: "none").
	TracingExporter string

	// OTLPEndpoint is the OTLP collector endpoint, e.g. "localhost:4318"
	// (without protocol prefix).
	OTLPEndpoint string

	// OTLPInsecure controls whether to use insecure HTTP for OTLP export.
	// Only for local development; spans may contain message ids.
	OTLPInsecure bool
}

// DefaultConfig returns a Config with defaults taken from the environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:     getEnvOrDefault("OTEL_SERVICE_NAME", "inboxtriage"),
		ServiceVersion:  "unknown",
		Enabled:         getEnvBoolOrDefault("INSTRUMENTATION_ENABLED", true),
		MetricsExporter: getEnvOrDefault("METRICS_EXPORTER", ExporterNone),
		TracingExporter: getEnvOrDefault("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:    getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:    getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validMetrics := map[string]bool{ExporterPrometheus: true, ExporterOTLP: true, ExporterStdout: true, ExporterNone: true}
	if c.MetricsExporter != "" && !validMetrics[c.MetricsExporter] {
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout, none", c.MetricsExporter)
	}

	validTracing := map[string]bool{ExporterOTLP: true, ExporterStdout: true, ExporterNone: true}
	if c.TracingExporter != "" && !validTracing[c.TracingExporter] {
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.MetricsExporter == ExporterOTLP && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP endpoint is required when using OTLP metrics exporter")
	}
	if c.TracingExporter == ExporterOTLP && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP endpoint is required when using OTLP tracing exporter")
	}

	return nil
}

// getEnvOrDefault returns the value of an environment variable or a default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the boolean value of an environment variable or a default value.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}
