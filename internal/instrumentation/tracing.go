package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the inboxtriage package.
const TracerName = "github.com/inboxtriage/inboxtriage"

// Span attribute keys.
const (
	// SpanAttrOperation is the remote operation name (list, get, classify, modify).
	SpanAttrOperation = "triage.operation"

	// SpanAttrMessageID is the mailbox message id being processed.
	SpanAttrMessageID = "triage.message_id"

	// SpanAttrPage is the page number within a run.
	SpanAttrPage = "triage.page"

	// SpanAttrDecision is the oracle decision for a message.
	SpanAttrDecision = "triage.decision"
)

// StartSpan starts a span using the globally registered tracer provider.
// With tracing disabled this is a cheap no-op.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetSpanError records an error on the span and marks it failed.
func SetSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks the span as successful.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
