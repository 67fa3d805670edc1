// Package instrumentation provides OpenTelemetry metrics and tracing for
// the triage pipeline.
//
// Metrics cover the run's four remote call sites (page fetch, message
// fetch, classification, mark read), per-message outcomes, and oracle
// decisions. Exporters are selected by configuration or environment:
// prometheus (scraped via --metrics-addr or the serve command), OTLP over
// HTTP, stdout for development, or none.
//
// Everything here is optional: a nil *Metrics records nothing and a
// disabled provider hands out no-op tracers, so the pipeline carries no
// conditional instrumentation code.
package instrumentation
