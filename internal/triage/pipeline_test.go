package triage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/inboxtriage/inboxtriage/internal/instrumentation"
)

// scriptedSource returns a fixed sequence of pages, failing the attempts
// listed in failFirst before the first page succeeds.
type scriptedSource struct {
	mu        sync.Mutex
	pages     []Page
	failFirst int
	calls     int
	tokens    []string
}

func (s *scriptedSource) FetchPage(_ context.Context, pageToken string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.tokens = append(s.tokens, pageToken)
	if s.failFirst > 0 {
		s.failFirst--
		return Page{}, errors.New("transport failure")
	}
	for i, p := range s.pages {
		want := ""
		if i > 0 {
			want = s.pages[i-1].NextToken
		}
		if pageToken == want {
			return p, nil
		}
	}
	return Page{}, errors.New("unknown page token " + pageToken)
}

// fakeParser returns scripted records per message id.
type fakeParser struct {
	mu      sync.Mutex
	records map[string]*Record
	failing map[string]bool
	calls   []string
}

func (p *fakeParser) Parse(_ context.Context, ref MessageRef) (*Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ref.ID)
	if p.failing[ref.ID] {
		return nil, errors.New("message fetch failed")
	}
	if rec, ok := p.records[ref.ID]; ok {
		return rec, nil
	}
	return &Record{Subject: "s " + ref.ID, To: "to@example.com", From: "from@example.com"}, nil
}

// fakeOracle returns scripted decisions per message id.
type fakeOracle struct {
	mu         sync.Mutex
	decisions  map[string]bool
	failing    map[string]bool
	onClassify func(id string)
	calls      []string
}

func (o *fakeOracle) Classify(_ context.Context, rec *Record) (bool, error) {
	id := rec.Subject[len("s "):]
	o.mu.Lock()
	o.calls = append(o.calls, id)
	cb := o.onClassify
	o.mu.Unlock()
	if cb != nil {
		cb(id)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failing[id] {
		return false, errors.New("oracle unreachable")
	}
	return o.decisions[id], nil
}

// fakeMarker records mark-read invocations; marking the same id twice is
// not an error, matching the remote API's idempotent label removal.
type fakeMarker struct {
	mu      sync.Mutex
	failing map[string]bool
	marked  map[string]int
}

func (m *fakeMarker) MarkRead(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[id] {
		return errors.New("modify failed")
	}
	if m.marked == nil {
		m.marked = map[string]int{}
	}
	m.marked[id]++
	return nil
}

func (m *fakeMarker) markedOnce(t *testing.T, ids ...string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.marked, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, m.marked[id], "message %s should be marked exactly once", id)
	}
}

func refs(ids ...string) []MessageRef {
	out := make([]MessageRef, len(ids))
	for i, id := range ids {
		out[i] = MessageRef{ID: id, ThreadID: "t" + id}
	}
	return out
}

func newTestPipeline(src Source, parser Parser, oracle Oracle, marker Marker, cfg Config) *Pipeline {
	return &Pipeline{
		Source: src,
		Parser: parser,
		Oracle: oracle,
		Marker: marker,
		Logger: slog.New(slog.DiscardHandler),
		Config: cfg,
	}
}

func TestPaginationTerminates(t *testing.T) {
	src := &scriptedSource{pages: []Page{
		{Refs: refs("1"), NextToken: "A"},
		{Refs: refs("2"), NextToken: "B"},
		{Refs: refs("3"), NextToken: ""},
	}}
	pipeline := newTestPipeline(src, &fakeParser{}, &fakeOracle{}, &fakeMarker{}, Config{})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 3, src.calls, "the source must be invoked exactly once per page")
	assert.Equal(t, []string{"", "A", "B"}, src.tokens)
	assert.Equal(t, int64(3), stats.PagesFetched)
	assert.Equal(t, int64(3), stats.TotalFetched)
}

func TestEndToEndScenario(t *testing.T) {
	// Two pages: decisions true, true, false on the first, false, false on
	// the second.
	src := &scriptedSource{pages: []Page{
		{Refs: refs("1", "2", "3"), NextToken: "A"},
		{Refs: refs("4", "5"), NextToken: ""},
	}}
	marker := &fakeMarker{}
	oracle := &fakeOracle{decisions: map[string]bool{"1": true, "2": true}}
	pipeline := newTestPipeline(src, &fakeParser{}, oracle, marker, Config{})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.PagesFetched)
	assert.Equal(t, int64(5), stats.TotalFetched)
	assert.Equal(t, int64(2), stats.TotalMarkedRead)
	assert.Equal(t, int64(3), stats.FinalUnread())
	marker.markedOnce(t, "1", "2")
}

func TestUnparsableMessageIsKeptUnread(t *testing.T) {
	src := &scriptedSource{pages: []Page{{Refs: refs("1", "2")}}}
	parser := &fakeParser{failing: map[string]bool{"1": true}}
	oracle := &fakeOracle{decisions: map[string]bool{"1": true, "2": true}}
	marker := &fakeMarker{}
	pipeline := newTestPipeline(src, parser, oracle, marker, Config{})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []string{"2"}, oracle.calls, "an unparsable message must not reach the oracle")
	marker.markedOnce(t, "2")
	assert.Equal(t, int64(1), stats.Unparsable)
	assert.Equal(t, int64(1), stats.TotalMarkedRead)
}

func TestOracleFailureKeepsUnread(t *testing.T) {
	src := &scriptedSource{pages: []Page{{Refs: refs("1")}}}
	oracle := &fakeOracle{failing: map[string]bool{"1": true}}
	marker := &fakeMarker{}
	pipeline := newTestPipeline(src, &fakeParser{}, oracle, marker, Config{})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	marker.markedOnce(t)
	assert.Equal(t, int64(1), stats.OracleErrors)
	assert.Zero(t, stats.TotalMarkedRead)
	assert.Equal(t, int64(1), stats.FinalUnread())
}

func TestMarkFailureIsNotCounted(t *testing.T) {
	src := &scriptedSource{pages: []Page{{Refs: refs("1", "2")}}}
	oracle := &fakeOracle{decisions: map[string]bool{"1": true, "2": true}}
	marker := &fakeMarker{failing: map[string]bool{"1": true}}
	pipeline := newTestPipeline(src, &fakeParser{}, oracle, marker, Config{})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.TotalMarkedRead)
	assert.Equal(t, int64(1), stats.MarkFailures)
	assert.Equal(t, int64(1), stats.FinalUnread())
	marker.markedOnce(t, "2")
}

func TestDryRunNeverMutates(t *testing.T) {
	src := &scriptedSource{pages: []Page{{Refs: refs("1", "2")}}}
	oracle := &fakeOracle{decisions: map[string]bool{"1": true, "2": true}}
	marker := &fakeMarker{}
	pipeline := newTestPipeline(src, &fakeParser{}, oracle, marker, Config{DryRun: true})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	marker.markedOnce(t)
	assert.Zero(t, stats.TotalMarkedRead)
	assert.Equal(t, int64(2), stats.WouldMarkRead)
	assert.Equal(t, int64(2), stats.FinalUnread())
}

func TestPageFetchFailureEndsRunEarly(t *testing.T) {
	src := &scriptedSource{
		failFirst: 1,
		pages:     []Page{{Refs: refs("1")}},
	}
	marker := &fakeMarker{}
	pipeline := newTestPipeline(src, &fakeParser{}, &fakeOracle{}, marker, Config{})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls, "without retries the first failure ends the run")
	assert.Equal(t, int64(1), stats.PagesFetched)
	assert.Zero(t, stats.TotalFetched)
	marker.markedOnce(t)
}

func TestPageFetchRetrySucceeds(t *testing.T) {
	src := &scriptedSource{
		failFirst: 2,
		pages:     []Page{{Refs: refs("1")}},
	}
	oracle := &fakeOracle{decisions: map[string]bool{"1": true}}
	marker := &fakeMarker{}
	pipeline := newTestPipeline(src, &fakeParser{}, oracle, marker, Config{
		PageRetries:      2,
		PageRetryBackoff: time.Millisecond,
	})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 3, src.calls, "two failures plus the successful attempt")
	assert.Equal(t, int64(1), stats.PagesFetched)
	assert.Equal(t, int64(1), stats.TotalMarkedRead)
	marker.markedOnce(t, "1")
}

func TestPageFetchRetryBudgetExhausted(t *testing.T) {
	src := &scriptedSource{failFirst: 10}
	pipeline := newTestPipeline(src, &fakeParser{}, &fakeOracle{}, &fakeMarker{}, Config{
		PageRetries:      2,
		PageRetryBackoff: time.Millisecond,
	})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 3, src.calls)
	assert.Equal(t, int64(1), stats.PagesFetched)
	assert.Zero(t, stats.TotalFetched)
}

func TestCancelledRunStopsRequestingPages(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	src := &scriptedSource{pages: []Page{{Refs: refs("1")}}}
	pipeline := newTestPipeline(src, &fakeParser{}, &fakeOracle{}, &fakeMarker{}, Config{})

	stats, err := pipeline.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls)
	assert.Zero(t, stats.TotalFetched)
}

func TestInFlightMutationCompletesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	src := &scriptedSource{pages: []Page{{Refs: refs("1")}}}
	// Cancel during classification: the already-made decision must still
	// be applied.
	oracle := &fakeOracle{
		decisions:  map[string]bool{"1": true},
		onClassify: func(string) { cancel() },
	}
	marker := &fakeMarker{}
	pipeline := newTestPipeline(src, &fakeParser{}, oracle, marker, Config{})

	stats, err := pipeline.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	marker.markedOnce(t, "1")
	assert.Equal(t, int64(1), stats.TotalMarkedRead)
}

func TestConcurrentPageProcessingMatchesSequential(t *testing.T) {
	ids1 := []string{"1", "2", "3", "4", "5", "6", "7"}
	ids2 := []string{"8", "9", "10", "11"}
	decisions := map[string]bool{"2": true, "4": true, "5": true, "9": true}

	run := func(concurrency int) (Stats, *fakeMarker) {
		src := &scriptedSource{pages: []Page{
			{Refs: refs(ids1...), NextToken: "A"},
			{Refs: refs(ids2...), NextToken: ""},
		}}
		marker := &fakeMarker{}
		oracle := &fakeOracle{decisions: decisions}
		pipeline := newTestPipeline(src, &fakeParser{}, oracle, marker, Config{Concurrency: concurrency})
		stats, err := pipeline.Run(t.Context())
		require.NoError(t, err)
		return stats, marker
	}

	seqStats, seqMarker := run(1)
	conStats, conMarker := run(4)

	assert.Equal(t, seqStats, conStats)
	seqMarker.markedOnce(t, "2", "4", "5", "9")
	conMarker.markedOnce(t, "2", "4", "5", "9")
	assert.Equal(t, int64(11), conStats.TotalFetched)
	assert.Equal(t, int64(4), conStats.TotalMarkedRead)
	assert.Equal(t, int64(7), conStats.FinalUnread())
}

func TestPageFetchSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	src := &scriptedSource{pages: []Page{
		{Refs: refs("1"), NextToken: "A"},
		{Refs: refs("2"), NextToken: ""},
	}}
	pipeline := newTestPipeline(src, &fakeParser{}, &fakeOracle{}, &fakeMarker{}, Config{})

	_, err := pipeline.Run(t.Context())
	require.NoError(t, err)
	require.NoError(t, tp.ForceFlush(t.Context()))

	var pageNums []int64
	for _, span := range exporter.GetSpans() {
		if span.Name != "triage.page" {
			continue
		}
		attrs := make(map[attribute.Key]attribute.Value, len(span.Attributes))
		for _, kv := range span.Attributes {
			attrs[kv.Key] = kv.Value
		}
		assert.Equal(t, "gmail.list", attrs[instrumentation.SpanAttrOperation].AsString())
		pageNums = append(pageNums, attrs[instrumentation.SpanAttrPage].AsInt64())
	}
	assert.Equal(t, []int64{1, 2}, pageNums)
}

func TestStatsInvariantHolds(t *testing.T) {
	// Mixed failure modes: the final-unread count never goes negative.
	src := &scriptedSource{pages: []Page{{Refs: refs("1", "2", "3", "4")}}}
	parser := &fakeParser{failing: map[string]bool{"1": true}}
	oracle := &fakeOracle{
		decisions: map[string]bool{"2": true, "3": true},
		failing:   map[string]bool{"4": true},
	}
	marker := &fakeMarker{failing: map[string]bool{"3": true}}
	pipeline := newTestPipeline(src, parser, oracle, marker, Config{Concurrency: 2})

	stats, err := pipeline.Run(t.Context())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, stats.FinalUnread(), int64(0))
	assert.Equal(t, int64(4), stats.TotalFetched)
	assert.Equal(t, int64(1), stats.TotalMarkedRead)
	assert.Equal(t, int64(1), stats.Unparsable)
	assert.Equal(t, int64(1), stats.OracleErrors)
	assert.Equal(t, int64(1), stats.MarkFailures)
}
