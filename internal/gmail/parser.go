package gmail

import (
	"encoding/base64"
	"errors"
	"fmt"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/inboxtriage/inboxtriage/internal/triage"
)

// Header names are matched exactly as the API returns them.
const (
	headerSubject = "Subject"
	headerTo      = "To"
	headerFrom    = "From"
	headerCc      = "Cc"
)

// ErrMissingHeader reports a message without one of the required headers.
// Such a message never becomes a Record and stays unread.
var ErrMissingHeader = errors.New("missing required header")

// parseRecord builds the classification Record from a full-format
// message. Subject, To and From are required; Cc is optional. The body is
// the first top-level text/plain part, or empty when there is none.
func parseRecord(msg *gmail.Message) (*triage.Record, error) {
	if msg == nil || msg.Payload == nil {
		return nil, errors.New("message has no payload")
	}

	headers := headerValues(msg.Payload.Headers)
	rec := &triage.Record{
		Cc:     headers[headerCc],
		Labels: msg.LabelIds,
	}
	for _, required := range []struct {
		name string
		dst  *string
	}{
		{headerSubject, &rec.Subject},
		{headerTo, &rec.To},
		{headerFrom, &rec.From},
	} {
		value, ok := headers[required.name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingHeader, required.name)
		}
		*required.dst = value
	}

	body, err := plainTextBody(msg.Payload)
	if err != nil {
		return nil, err
	}
	rec.Body = body
	return rec, nil
}

// headerValues indexes headers by exact name, keeping the first value of
// any repeated header.
func headerValues(headers []*gmail.MessagePartHeader) map[string]string {
	values := make(map[string]string, len(headers))
	for _, h := range headers {
		if _, ok := values[h.Name]; !ok {
			values[h.Name] = h.Value
		}
	}
	return values
}

// plainTextBody returns the decoded body of the first top-level
// text/plain part. Nested multipart structures are not descended into,
// and a first text/plain part without data means an empty body even when
// a later text/plain part exists.
func plainTextBody(payload *gmail.MessagePart) (string, error) {
	for _, part := range payload.Parts {
		if part.MimeType != "text/plain" {
			continue
		}
		if part.Body == nil || part.Body.Data == "" {
			return "", nil
		}
		// The API uses base64url encoding; tolerate unpadded data.
		decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			decoded, err = base64.RawURLEncoding.DecodeString(part.Body.Data)
			if err != nil {
				return "", fmt.Errorf("decoding text/plain body: %w", err)
			}
		}
		return string(decoded), nil
	}
	return "", nil
}
