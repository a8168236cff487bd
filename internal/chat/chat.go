// Package chat relays dashboard chat conversations to a hosted language
// model and streams the token output back. Providers sit behind a small
// interface so the upstream model can be swapped without touching handler
// logic.
package chat

import (
	"context"
	"fmt"
)

// DefaultSystemPrompt frames the assistant for air-quality questions. A
// config override replaces it wholesale.
const DefaultSystemPrompt = `You are Respiro, an assistant embedded in an air-quality monitoring dashboard.
You answer questions about AQI readings, pollution forecasts, sensor coverage,
and the enforcement and accountability agents. Be concise. When you do not
have live data for a question, say so instead of guessing.`

// Message is one turn of the conversation as sent by the dashboard.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// StreamHandler receives the model's incremental output.
type StreamHandler interface {
	OnDelta(text string)
	OnDone()
}

// Streamer streams a completion for a message history.
type Streamer interface {
	// Name identifies the provider ("openai", "gemini", "anthropic").
	Name() string
	// Stream forwards messages to the model and relays deltas to h as they
	// arrive. Any upstream error surfaces as a failed stream; no retry.
	Stream(ctx context.Context, messages []Message, h StreamHandler) error
}

// MissingCredentialError reports an unset provider API key. Handlers turn
// it into an immediate 400 without attempting an upstream call.
type MissingCredentialError struct {
	EnvVar string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s missing: set it in the environment to enable chat", e.EnvVar)
}

// Options configure a provider.
type Options struct {
	APIKey       string
	Model        string // empty = provider's hard-coded fallback
	SystemPrompt string // empty = DefaultSystemPrompt
	MaxTokens    int
}

func (o Options) systemPrompt() string {
	if o.SystemPrompt != "" {
		return o.SystemPrompt
	}
	return DefaultSystemPrompt
}

func (o Options) maxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return 1024
}
