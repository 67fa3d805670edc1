package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/inboxtriage/inboxtriage/internal/openai"
)

// affirmative is the one token the oracle must emit, verbatim, for a
// message to be marked read. Anything else resolves to keeping it unread.
const affirmative = "True"

// Identity names the mailbox owner for the oracle prompt.
type Identity struct {
	FirstName string
	LastName  string
}

// CompletionClient is the oracle transport. *openai.Client satisfies it.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error)
}

// Classifier asks a chat-completion oracle whether a message is safe to
// mark read.
type Classifier struct {
	// Client is the completion transport. Required.
	Client CompletionClient
	// Model is the chat-completion model identifier.
	Model string
	// Identity is the mailbox owner, referenced by the prompt.
	Identity Identity
	// MaxBodyLen caps the body text sent to the oracle. Zero means
	// DefaultMaxBodyLen.
	MaxBodyLen int
}

// Classify returns true iff the oracle judges the record safe to mark
// read. A nil record is never safe (there is nothing to judge), and a
// transport failure surfaces as an error alongside a false decision, so
// every failure path keeps the message unread.
func (c *Classifier) Classify(ctx context.Context, rec *Record) (bool, error) {
	if rec == nil {
		return false, nil
	}

	maxLen := c.MaxBodyLen
	if maxLen <= 0 {
		maxLen = DefaultMaxBodyLen
	}

	req := openai.ChatRequest{
		Model: c.Model,
		Messages: []openai.Message{
			{Role: openai.RoleSystem, Content: c.systemPrompt()},
			{Role: openai.RoleUser, Content: userMessage(rec, maxLen)},
		},
		// One deterministic token: "True" or "False".
		MaxTokens:   1,
		Temperature: 0.0,
	}

	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate message with %s: %w", c.Model, err)
	}

	return Decide(resp.Text()), nil
}

// Decide maps the oracle's textual response to a decision: true iff the
// trimmed response equals exactly "True". "true", "False", empty and
// malformed output all mean keep unread.
func Decide(response string) bool {
	return strings.TrimSpace(response) == affirmative
}

// systemPrompt builds the fixed instruction describing the user and the
// criteria for ignoring a message.
func (c *Classifier) systemPrompt() string {
	first := c.Identity.FirstName
	last := c.Identity.LastName

	return fmt.Sprintf(
		"Your task is to assist in managing the Gmail inbox of a busy individual, "+
			"%[1]s %[2]s, by filtering out promotional emails "+
			"from their personal (i.e., not work) account. Your primary focus is to ensure "+
			"that emails from individual people, whether they are known family members (with the "+
			"same last name), close acquaintances, or potential contacts %[1]s might be interested "+
			"in hearing from, are not ignored. You need to distinguish between promotional, automated, "+
			"or mass-sent emails and personal communications.\n\n"+
			"Respond with \"True\" if the email is promotional and should be ignored based on "+
			"the below criteria, or \"False\" otherwise. Remember to prioritize personal "+
			"communications and ensure emails from genuine individuals are not filtered out.\n\n"+
			"Criteria for Ignoring an Email:\n"+
			"- The email is promotional: It contains offers, discounts, or is marketing a product "+
			"or service.\n"+
			"- The email is automated: It is sent by a system or service automatically, and not a "+
			"real person.\n"+
			"- The email appears to be mass-sent or from a non-essential mailing list: It does not "+
			"address %[1]s by name, lacks personal context that would indicate it's personally written "+
			"to them, or is from a mailing list that does not pertain to their interests or work.\n\n"+
			"Special Consideration:\n"+
			"- Exception: If the email is from an actual person, especially a family member (with the "+
			"same last name), a close acquaintance, or a potential contact %[1]s might be interested in, "+
			"and contains personalized information indicating a one-to-one communication, do not mark "+
			"it for ignoring regardless of the promotional content.\n\n"+
			"- Additionally, do not ignore emails requiring an action to be taken for important matters, "+
			"such as needing to send a payment via Venmo, but ignore requests for non-essential actions "+
			"like purchasing discounted items or signing up for rewards programs.\n\n"+
			"Be cautious: If there's any doubt about whether an email is promotional or personal, "+
			"respond with \"False\".\n\n"+
			"The user message you will receive will have the following format:\n"+
			"Subject: <email subject>\n"+
			"To: <to names, to emails>\n"+
			"From: <from name, from email>\n"+
			"Cc: <cc names, cc emails>\n"+
			"Gmail labels: <labels>\n"+
			"Body: <plaintext body of the email>\n\n"+
			"Your response must be:\n"+
			"\"True\" or \"False\"",
		first, last,
	)
}

// userMessage renders the record for the oracle, one field per line.
func userMessage(rec *Record, maxBodyLen int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", rec.Subject)
	fmt.Fprintf(&b, "To: %s\n", rec.To)
	fmt.Fprintf(&b, "From: %s\n", rec.From)
	fmt.Fprintf(&b, "Cc: %s\n", rec.Cc)
	fmt.Fprintf(&b, "Gmail labels: %s\n", strings.Join(rec.Labels, ", "))
	fmt.Fprintf(&b, "Body: %s", TruncateBody(rec.Body, maxBodyLen))
	return b.String()
}
