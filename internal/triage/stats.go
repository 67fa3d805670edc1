package triage

import "sync"

// Stats accumulates run-level accounting. All counters are monotonic
// within a run.
type Stats struct {
	// PagesFetched counts page-fetch attempts that completed, successfully
	// or not.
	PagesFetched int64
	// TotalFetched counts unread-message references enumerated.
	TotalFetched int64
	// TotalMarkedRead counts messages whose unread marker was removed.
	// A dry run never increments it.
	TotalMarkedRead int64

	// Unparsable counts messages that could not be fetched or were missing
	// a required header; all were kept unread.
	Unparsable int64
	// OracleErrors counts classification attempts that failed in
	// transport; all resolved to keeping the message unread.
	OracleErrors int64
	// MarkFailures counts messages classified safe whose mutation failed;
	// they stay unread until a future run.
	MarkFailures int64
	// WouldMarkRead counts messages a dry run would have marked read.
	WouldMarkRead int64
}

// FinalUnread is the number of enumerated messages still unread at the end
// of the run. It is never negative: only enumerated messages are ever
// marked.
func (s Stats) FinalUnread() int64 {
	return s.TotalFetched - s.TotalMarkedRead
}

// LogAttrs returns the stats as alternating slog key-value pairs.
func (s Stats) LogAttrs() []any {
	attrs := []any{
		"pagesFetched", s.PagesFetched,
		"totalFetched", s.TotalFetched,
		"totalMarkedRead", s.TotalMarkedRead,
		"finalUnread", s.FinalUnread(),
	}
	if s.Unparsable > 0 {
		attrs = append(attrs, "unparsable", s.Unparsable)
	}
	if s.OracleErrors > 0 {
		attrs = append(attrs, "oracleErrors", s.OracleErrors)
	}
	if s.MarkFailures > 0 {
		attrs = append(attrs, "markFailures", s.MarkFailures)
	}
	if s.WouldMarkRead > 0 {
		attrs = append(attrs, "wouldMarkRead", s.WouldMarkRead)
	}
	return attrs
}

// collector is the race-free Stats accumulator shared by page workers.
type collector struct {
	mu sync.Mutex
	s  Stats
}

func (c *collector) addPage(refs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.PagesFetched++
	c.s.TotalFetched += int64(refs)
}

func (c *collector) markedRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.TotalMarkedRead++
}

func (c *collector) unparsable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Unparsable++
}

func (c *collector) oracleError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.OracleErrors++
}

func (c *collector) markFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.MarkFailures++
}

func (c *collector) wouldMark() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.WouldMarkRead++
}

func (c *collector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
