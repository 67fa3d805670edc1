package gmail

import (
	"context"
	"fmt"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/inboxtriage/inboxtriage/internal/triage"
)

const (
	// unreadLabel is the system label whose removal marks a message read.
	unreadLabel = "UNREAD"
	// account is the special user id for the authenticated mailbox.
	account = "me"
)

// Client wraps the Gmail Users service with the three operations the
// triage pipeline needs: enumerating unread messages, fetching one
// message as a Record, and removing the unread label.
type Client struct {
	svc *gmail.UsersService
}

// NewClient creates a Gmail client. The caller supplies authentication
// through the client options, typically option.WithHTTPClient with an
// OAuth-backed HTTP client.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Gmail service: %w", err)
	}
	return &Client{svc: svc.Users}, nil
}

// FetchPage returns one page of unread-message references. An empty
// pageToken requests the first page; an empty NextToken in the result
// means there are no further pages.
func (c *Client) FetchPage(ctx context.Context, pageToken string) (triage.Page, error) {
	req := c.svc.Messages.List(account).LabelIds(unreadLabel)
	if pageToken != "" {
		req = req.PageToken(pageToken)
	}
	res, err := req.Context(ctx).Do()
	if err != nil {
		return triage.Page{}, fmt.Errorf("listing unread messages: %w", err)
	}

	page := triage.Page{NextToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.Refs = append(page.Refs, triage.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return page, nil
}

// Parse fetches the full message and builds its classification Record.
func (c *Client) Parse(ctx context.Context, ref triage.MessageRef) (*triage.Record, error) {
	msg, err := c.svc.Messages.Get(account, ref.ID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", ref.ID, err)
	}
	return parseRecord(msg)
}

// MarkRead removes the unread label from a message. Removing a label the
// message no longer carries succeeds, so repeated calls are safe.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	_, err := c.svc.Messages.Modify(account, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{unreadLabel},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("marking message %s as read: %w", id, err)
	}
	return nil
}
