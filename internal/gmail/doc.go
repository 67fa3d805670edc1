// Package gmail provides the Gmail-backed message source, parser and
// mutation applier used by the triage pipeline.
//
// The client wraps the Gmail Users service and exposes exactly three
// operations: paging through the mailbox's unread messages, fetching one
// message and reducing it to a classification record, and removing the
// unread label. Authentication is supplied by the caller, typically an
// OAuth-backed HTTP client from the google package.
package gmail
