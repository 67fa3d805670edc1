// Package triage implements the unread-mailbox triage pipeline.
//
// One run enumerates every currently-unread message page by page, builds a
// classification record for each, asks a chat-completion oracle whether
// the message is safe to ignore, and removes the unread marker from the
// messages judged non-essential. The governing principle is a fail-safe
// bias: a message is only marked read on an explicit affirmative decision
// with a successful mutation; every failure or ambiguity leaves it unread.
//
// The pipeline is wired from four small interfaces (Source, Parser,
// Oracle, Marker) so the Gmail and OpenAI clients stay replaceable in
// tests. Components report per-message outcomes and the pipeline folds
// them into run Stats, which also makes per-page concurrent processing
// safe.
package triage
