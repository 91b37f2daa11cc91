// Package llm fronts the configured language model providers. Model is
// the per-provider adapter contract; Client routes a request to the
// right adapter and hardens the call with retry and a per-model
// circuit breaker.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call.
type Request struct {
	// Model is the provider-side model identifier.
	Model string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Temperature overrides the provider default when positive.
	Temperature float64

	// MaxTokens caps the completion length when positive.
	MaxTokens int
}

// Response is a completed model call.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Model is one language model provider adapter.
type Model interface {
	// Provider returns the registry name the adapter serves.
	Provider() string

	// Generate runs one completion.
	Generate(ctx context.Context, req Request) (*Response, error)
}

// System and User build single messages; most stage prompts are a
// system preamble plus one user turn.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

func User(content string) Message { return Message{Role: RoleUser, Content: content} }
