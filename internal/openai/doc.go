// Package openai provides a minimal client for the OpenAI chat-completions
// API. Only the single-request surface the classifier needs is implemented;
// streaming and tool use are out of scope.
package openai
