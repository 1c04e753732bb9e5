// Package ai wraps outbound calls to LLM chat-completion endpoints behind a
// small provider interface, so the turn engine never depends on a specific
// vendor's wire format.
package ai

import "context"

// Message is one role-tagged entry in a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseSchema describes the structured-reply shape a provider should try
// to enforce. Not every provider can honor it server-side (Ollama has no
// JSON-schema mode); callers must still validate the raw reply themselves.
type ResponseSchema struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatOptions carries the per-call sampling parameters the turn engine and
// summarizer need to control independently (a turn reply wants the
// project/model default temperature; a memory summary wants a low,
// deterministic-leaning temperature and a hard output cap).
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int

	// APIKey overrides the provider's own configured key when set. The
	// turn engine decrypts a project-bound token secret per run and must
	// forward it here — the registry only resolves *which* provider/model
	// to use, never a credential.
	APIKey string
}

// Provider is a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message, schema *ResponseSchema, opts *ChatOptions) (string, error)
}
