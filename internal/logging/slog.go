package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyService   = "service"
	KeyMessageID = "message_id"
	KeyPage      = "page"
	KeyDecision  = "decision"
	KeyStatus    = "status"
	KeyError     = "error"
	KeySender    = "sender_hash"
	KeySubject   = "subject"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// subjectSnippetLen bounds the subject length in per-message log lines.
const subjectSnippetLen = 50

// Options configures the logger constructed by New.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "text" or "json". Defaults to "text".
	Format string
	// File is an optional path; when set, log output is appended to the
	// file instead of being written to stderr.
	File string
}

// New constructs the process-wide logger. It is called exactly once at
// startup; components receive the resulting logger by injection rather
// than configuring logging themselves.
//
// The returned closer is non-nil when a log file was opened.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		w = f
		closer = f
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}

	var handler slog.Handler
	switch opts.Format {
	case "", "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, fmt.Errorf("invalid log format %q, must be one of: text, json", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", s)
	}
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithService returns a logger with the service attribute set.
func WithService(logger *slog.Logger, service string) *slog.Logger {
	return logger.With(slog.String(KeyService, service))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// MessageID returns a slog attribute for a mailbox message id.
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// Page returns a slog attribute for the page number within a run.
func Page(n int64) slog.Attr {
	return slog.Int64(KeyPage, n)
}

// Decision returns a slog attribute for a classification decision.
func Decision(d bool) slog.Attr {
	return slog.Bool(KeyDecision, d)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from
// output, so Err(maybeNilErr) is always safe to pass.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email address for
// logging. Log entries stay correlatable without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// Sender returns a slog attribute with the anonymized sender address.
func Sender(from string) slog.Attr {
	return slog.String(KeySender, AnonymizeEmail(from))
}

// SubjectSnippet returns a slog attribute carrying at most 50 characters of
// the subject, with "..." appended when it was shortened.
func SubjectSnippet(subject string) slog.Attr {
	return slog.String(KeySubject, Snippet(subject, subjectSnippetLen))
}

// Snippet shortens s to at most max characters, appending "..." iff s was
// longer than max.
func Snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
