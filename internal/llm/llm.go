// Package llm provides model backend clients. Every provider speaks
// the same minimal contract: an ordered message transcript in, one
// assistant reply out. Tool calls travel inside the reply text and are
// parsed downstream, so switching providers never changes the
// conversation shape.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the unified response from any provider.
type Reply struct {
	// Content is the assistant's raw text output.
	Content string

	// Model is the model that produced the reply.
	Model string

	// Token usage, when the provider reports it.
	InputTokens  int
	OutputTokens int
}

// Client is the interface every model provider implements.
type Client interface {
	// Chat sends the transcript and returns the assistant's reply.
	// Unreachable providers fail with a provider_unavailable
	// classification.
	Chat(ctx context.Context, messages []Message) (*Reply, error)

	// Ping checks whether the provider is reachable.
	Ping(ctx context.Context) error

	// Model returns the configured model identifier.
	Model() string
}
