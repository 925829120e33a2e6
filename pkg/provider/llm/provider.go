// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform
// single-shot completion interface for the turn orchestrator. The voice loop
// consumes exactly one completion per turn, so there is no streaming surface.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message roles as used across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the conversation history sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser, or RoleAssistant.
	Role string

	// Content is the plain-text message body.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// Request carries everything the LLM needs to produce a reply for one turn.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type Request struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. If the provider does not natively support a
	// dedicated system prompt, implementors should prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Response is the model's reply to a Request.
type Response struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req Request) (*Response, error)
}
