// Package llms provides chat completion providers used to answer
// questions over retrieved document context.
//
// All providers are hand-rolled HTTP clients over pkg/httpclient so that
// retry and rate-limit behavior is uniform across backends. Streaming
// responses are surfaced as a channel of StreamChunk values with exactly
// one terminal chunk carrying Done=true and final usage.
package llms

import (
	"context"
	"strings"
)

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a chat call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is a complete (non-streaming) chat response. Usage is nil
// when the backend does not report token counts.
type ChatResult struct {
	Content string
	Usage   *Usage
}

// StreamChunk is one increment of a streaming chat response. Content
// chunks arrive first; the terminal chunk has Done=true and carries the
// final usage when the backend reports it. Err is set instead when the
// stream fails.
type StreamChunk struct {
	Content string
	Done    bool
	Usage   *Usage
	Err     error
}

// Provider is a chat completion backend. contexts holds retrieved
// document excerpts that are folded into the system prompt.
type Provider interface {
	Chat(ctx context.Context, messages []Message, contexts []string) (*ChatResult, error)
	ChatStream(ctx context.Context, messages []Message, contexts []string) (<-chan StreamChunk, error)
	ModelName() string
	TestConnection(ctx context.Context) error
}

// BuildSystemPrompt renders the system prompt for a set of retrieved
// context excerpts. With no context only the first sentence is used.
func BuildSystemPrompt(contexts []string) string {
	const base = "You are an AI assistant that helps people find information."
	if len(contexts) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	b.WriteString("Use the following context to answer questions. If the information is not\nin the context, say so clearly.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(contexts, "\n\n"))
	return b.String()
}
