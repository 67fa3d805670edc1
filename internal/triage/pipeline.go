package triage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/inboxtriage/inboxtriage/internal/instrumentation"
	"github.com/inboxtriage/inboxtriage/internal/logging"
)

// Source enumerates unread-message references page by page. An empty
// pageToken requests the first page.
type Source interface {
	FetchPage(ctx context.Context, pageToken string) (Page, error)
}

// Parser fetches one message and builds its Record. Any error means the
// message is unparsable and stays unread.
type Parser interface {
	Parse(ctx context.Context, ref MessageRef) (*Record, error)
}

// Oracle decides whether a record is safe to mark read. An error means
// the decision could not be obtained; the message stays unread.
type Oracle interface {
	Classify(ctx context.Context, rec *Record) (bool, error)
}

// Marker removes the unread marker from a message. It must be idempotent
// and safe for concurrent use on distinct ids.
type Marker interface {
	MarkRead(ctx context.Context, id string) error
}

// Config holds the pipeline's run policies.
type Config struct {
	// Concurrency bounds the worker pool that processes the references of
	// one page. Zero or one means sequential processing. The next page is
	// only requested once the current page has fully drained.
	Concurrency int

	// PageRetries is the number of times a failed page fetch is retried
	// (with exponential backoff) before the run ends early. Zero retries
	// reproduce the historical fail-soft behavior: the first page-fetch
	// failure terminates the run, leaving the remaining messages unread.
	PageRetries int

	// PageRetryBackoff is the delay before the first page-fetch retry,
	// doubling per attempt. Zero means the 500ms default.
	PageRetryBackoff time.Duration

	// DryRun classifies without mutating. Decisions are logged and
	// counted as WouldMarkRead.
	DryRun bool
}

// pageRetryBaseDelay is the backoff before the first page-fetch retry;
// it doubles per attempt.
const pageRetryBaseDelay = 500 * time.Millisecond

// Pipeline drives one triage run: enumerate unread messages, classify
// each, and mark the non-essential ones read. Every recoverable failure
// biases toward leaving a message unread.
type Pipeline struct {
	Source Source
	Parser Parser
	Oracle Oracle
	Marker Marker

	// Logger is required.
	Logger *slog.Logger
	// Metrics may be nil.
	Metrics *instrumentation.Metrics

	Config Config
}

// Run executes the page loop until the source reports no further page,
// the context is cancelled, or a page fetch fails beyond its retry
// budget. The returned Stats are valid in every case; the error is
// non-nil only for cancellation.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	ctx, span := instrumentation.StartSpan(ctx, "triage.run")
	defer span.End()

	col := &collector{}
	pageToken := ""

	for {
		if err := ctx.Err(); err != nil {
			instrumentation.SetSpanError(span, err)
			return col.snapshot(), err
		}

		page, ok := p.fetchPage(ctx, pageToken, col)
		if !ok {
			// Fail-soft: unseen unread messages simply stay unread.
			break
		}

		p.processPage(ctx, page, col)

		if page.NextToken == "" {
			break
		}
		pageToken = page.NextToken
	}

	stats := col.snapshot()
	p.Logger.Info("triage run finished", stats.LogAttrs()...)
	instrumentation.SetSpanSuccess(span)
	return stats, ctx.Err()
}

// fetchPage fetches one page, retrying per policy. The second return is
// false when the run should end early.
func (p *Pipeline) fetchPage(ctx context.Context, pageToken string, col *collector) (Page, bool) {
	ctx, span := instrumentation.StartSpan(ctx, "triage.page",
		attribute.String(instrumentation.SpanAttrOperation, "gmail.list"))
	defer span.End()

	logger := logging.WithOperation(p.Logger, "source.fetch_page")

	backoff := p.Config.PageRetryBackoff
	if backoff <= 0 {
		backoff = pageRetryBaseDelay
	}

	var lastErr error
	for attempt := 0; attempt <= p.Config.PageRetries; attempt++ {
		if attempt > 0 {
			delay := backoff << (attempt - 1)
			logger.Warn("retrying page fetch",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				logging.Err(lastErr))
			select {
			case <-ctx.Done():
				return Page{}, false
			case <-time.After(delay):
			}
		}

		start := time.Now()
		page, err := p.Source.FetchPage(ctx, pageToken)
		if err == nil {
			p.Metrics.RecordCall(ctx, "gmail.list", instrumentation.StatusSuccess, time.Since(start))
			col.addPage(len(page.Refs))
			pageNum := col.snapshot().PagesFetched
			p.Metrics.RecordPage(ctx, instrumentation.StatusSuccess, len(page.Refs))
			span.SetAttributes(attribute.Int64(instrumentation.SpanAttrPage, pageNum))
			instrumentation.SetSpanSuccess(span)
			logger.Info("fetched page of unread messages",
				logging.Page(pageNum),
				slog.Int("messages", len(page.Refs)))
			return page, true
		}
		p.Metrics.RecordCall(ctx, "gmail.list", instrumentation.StatusError, time.Since(start))
		lastErr = err
	}

	// The attempt still counts as a fetched page; it just yielded nothing.
	col.addPage(0)
	p.Metrics.RecordPage(ctx, instrumentation.StatusError, 0)
	instrumentation.SetSpanError(span, lastErr)
	logger.Error("failed to fetch page, ending run early", logging.Err(lastErr))
	return Page{}, false
}

// processPage drains one page through a bounded worker pool. The pool is
// per page: the caller only asks for the next page after this returns.
func (p *Pipeline) processPage(ctx context.Context, page Page, col *collector) {
	workers := p.Config.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(page.Refs) {
		workers = len(page.Refs)
	}
	if workers <= 1 {
		for _, ref := range page.Refs {
			if ctx.Err() != nil {
				return
			}
			p.processMessage(ctx, ref, col)
		}
		return
	}

	refs := make(chan MessageRef)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range refs {
				p.processMessage(ctx, ref, col)
			}
		}()
	}

	for _, ref := range page.Refs {
		if ctx.Err() != nil {
			break
		}
		refs <- ref
	}
	close(refs)
	wg.Wait()
}

// processMessage runs parse, classify, mark for one reference.
func (p *Pipeline) processMessage(ctx context.Context, ref MessageRef, col *collector) {
	ctx, span := instrumentation.StartSpan(ctx, "triage.message",
		attribute.String(instrumentation.SpanAttrMessageID, ref.ID))
	defer span.End()

	logger := p.Logger.With(logging.MessageID(ref.ID))

	start := time.Now()
	rec, err := p.Parser.Parse(ctx, ref)
	if err != nil {
		p.Metrics.RecordCall(ctx, "gmail.get", instrumentation.StatusError, time.Since(start))
		p.Metrics.RecordOutcome(ctx, instrumentation.OutcomeUnparsable)
		col.unparsable()
		logger.Warn("failed to parse message, keeping unread",
			logging.Operation("parser.parse"), logging.Err(err))
		instrumentation.SetSpanError(span, err)
		return
	}
	p.Metrics.RecordCall(ctx, "gmail.get", instrumentation.StatusSuccess, time.Since(start))

	logger = logger.With(logging.SubjectSnippet(rec.Subject), logging.Sender(rec.From))

	start = time.Now()
	safe, err := p.Oracle.Classify(ctx, rec)
	if err != nil {
		// Fail-safe: an unanswered question means keep unread.
		p.Metrics.RecordCall(ctx, "oracle.classify", instrumentation.StatusError, time.Since(start))
		p.Metrics.RecordOutcome(ctx, instrumentation.OutcomeOracleError)
		col.oracleError()
		logger.Warn("classification failed, keeping unread",
			logging.Operation("oracle.classify"), logging.Err(err))
		instrumentation.SetSpanError(span, err)
		return
	}
	p.Metrics.RecordCall(ctx, "oracle.classify", instrumentation.StatusSuccess, time.Since(start))
	p.Metrics.RecordDecision(ctx, safe)
	span.SetAttributes(attribute.Bool(instrumentation.SpanAttrDecision, safe))

	if !safe {
		p.Metrics.RecordOutcome(ctx, instrumentation.OutcomeKeptUnread)
		logger.Info("message is worth the time, leaving as unread", logging.Decision(false))
		return
	}

	if p.Config.DryRun {
		col.wouldMark()
		p.Metrics.RecordOutcome(ctx, instrumentation.OutcomeWouldMarkRead)
		logger.Info("message is not worth the time, would mark as read (dry run)",
			logging.Decision(true))
		return
	}

	logger.Info("message is not worth the time, marking as read", logging.Decision(true))

	// A message already judged safe gets its mutation even if the run is
	// being cancelled, so it is never left classified-but-unapplied.
	markCtx := context.WithoutCancel(ctx)
	start = time.Now()
	if err := p.Marker.MarkRead(markCtx, ref.ID); err != nil {
		p.Metrics.RecordCall(ctx, "gmail.modify", instrumentation.StatusError, time.Since(start))
		p.Metrics.RecordOutcome(ctx, instrumentation.OutcomeMarkFailed)
		col.markFailure()
		logger.Error("failed to mark message as read",
			logging.Operation("marker.mark_read"), logging.Err(err))
		instrumentation.SetSpanError(span, err)
		return
	}
	p.Metrics.RecordCall(ctx, "gmail.modify", instrumentation.StatusSuccess, time.Since(start))
	p.Metrics.RecordOutcome(ctx, instrumentation.OutcomeMarkedRead)
	col.markedRead()
	logger.Debug("message marked as read", logging.Status(logging.StatusSuccess))
}
