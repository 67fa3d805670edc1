package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrOperation = "operation"
	attrStatus    = "status"
	attrOutcome   = "outcome"
	attrDecision  = "decision"
)

// Metrics records observability metrics for the triage pipeline. A nil
// *Metrics is valid and records nothing, so callers never need to guard
// their instrumentation calls.
type Metrics struct {
	pagesTotal      metric.Int64Counter
	messagesTotal   metric.Int64Counter
	outcomesTotal   metric.Int64Counter
	decisionsTotal  metric.Int64Counter
	apiCallDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.pagesTotal, err = meter.Int64Counter(
		"triage_pages_fetched_total",
		metric.WithDescription("Total number of unread-message pages fetched"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create triage_pages_fetched_total counter: %w", err)
	}

	m.messagesTotal, err = meter.Int64Counter(
		"triage_messages_fetched_total",
		metric.WithDescription("Total number of unread messages enumerated"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create triage_messages_fetched_total counter: %w", err)
	}

	m.outcomesTotal, err = meter.Int64Counter(
		"triage_message_outcomes_total",
		metric.WithDescription("Per-message pipeline outcomes"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create triage_message_outcomes_total counter: %w", err)
	}

	m.decisionsTotal, err = meter.Int64Counter(
		"triage_oracle_decisions_total",
		metric.WithDescription("Classification decisions returned by the oracle"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create triage_oracle_decisions_total counter: %w", err)
	}

	m.apiCallDuration, err = meter.Float64Histogram(
		"triage_api_call_duration_seconds",
		metric.WithDescription("Duration of remote calls (page fetch, message fetch, classify, mark read)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create triage_api_call_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordPage records a completed page fetch and the number of references it
// returned.
func (m *Metrics) RecordPage(ctx context.Context, status string, messages int) {
	if m == nil || m.pagesTotal == nil {
		return
	}
	m.pagesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
	if messages > 0 {
		m.messagesTotal.Add(ctx, int64(messages))
	}
}

// RecordOutcome records the final pipeline outcome for one message.
// Outcome is one of the Outcome* constants.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	if m == nil || m.outcomesTotal == nil {
		return
	}
	m.outcomesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordDecision records one oracle decision.
func (m *Metrics) RecordDecision(ctx context.Context, decision bool) {
	if m == nil || m.decisionsTotal == nil {
		return
	}
	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool(attrDecision, decision)))
}

// RecordCall records the duration and status of one remote call.
func (m *Metrics) RecordCall(ctx context.Context, operation, status string, duration time.Duration) {
	if m == nil || m.apiCallDuration == nil {
		return
	}
	m.apiCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	))
}
