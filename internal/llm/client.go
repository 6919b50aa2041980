// Package llm provides LLM client implementations.
package llm

import "context"

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single chat call.
type Options struct {
	// JSONMode asks the provider to constrain output to a JSON object.
	// Providers that cannot enforce it still receive the instruction in
	// the prompt; the parse boundary handles the rest.
	JSONMode bool
	// Temperature overrides the provider default when non-zero.
	Temperature float32
}

// ChatResponse is the unified response from any LLM provider.
type ChatResponse struct {
	Model   string
	Content string

	// Token usage (provider-neutral, zero when unavailable)
	InputTokens  int
	OutputTokens int
}

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, opts *Options) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
