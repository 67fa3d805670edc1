// Package logging provides structured logging utilities for the inboxtriage
// application.
//
// The logger is constructed once at process start (see New) and handed to
// each component; nothing in the codebase configures logging at package
// level. All log lines use slog with the attribute-key constants defined
// here so that per-message decisions and the run summary stay machine
// parseable.
//
// # Security Considerations
//
// Sender addresses are hashed before logging (AnonymizeEmail) so that runs
// can be correlated without writing PII to the log stream. Subjects are
// shortened to a snippet.
package logging
