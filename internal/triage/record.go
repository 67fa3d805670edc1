package triage

// MessageRef identifies one mailbox entry within a run. Refs are produced
// by the message source, consumed once by the parser, and never persisted.
type MessageRef struct {
	ID       string
	ThreadID string
}

// Page is one page of unread-message references. An empty NextToken means
// the enumeration is complete.
type Page struct {
	Refs      []MessageRef
	NextToken string
}

// Record is the classification-ready view of one message.
//
// Subject, To and From come from required headers; a message missing any
// of them never becomes a Record (the parser reports it unparsable
// instead, which keeps the message unread). Cc is optional and empty when
// the header is absent. Body is the first text/plain part, or "" when the
// message has none.
type Record struct {
	Subject string
	To      string
	From    string
	Cc      string
	Labels  []string
	Body    string
}

// DefaultMaxBodyLen is the default cap on the body text sent to the
// oracle.
const DefaultMaxBodyLen = 5000

// TruncateBody returns the first max characters of body, appending "..."
// iff the body was longer. Bodies within the limit are returned unchanged.
func TruncateBody(body string, max int) string {
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "..."
}
