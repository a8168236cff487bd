package chat

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-2.0-flash"

	// Gemini serves an OpenAI-compatible surface; pointing the same client
	// at it is how the second provider works.
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// OpenAIStreamer streams chat completions from an OpenAI-compatible
// endpoint. It backs both the default provider and the Gemini variant.
type OpenAIStreamer struct {
	name   string
	client *openai.Client
	model  string
	opts   Options
}

// NewOpenAI builds the default provider. Returns MissingCredentialError if
// the key is unset.
func NewOpenAI(opts Options) (*OpenAIStreamer, error) {
	return newOpenAICompat("openai", "OPENAI_API_KEY", "", defaultOpenAIModel, opts)
}

// NewGemini builds the Gemini-backed variant via Gemini's OpenAI-compatible
// endpoint.
func NewGemini(opts Options) (*OpenAIStreamer, error) {
	return newOpenAICompat("gemini", "GEMINI_API_KEY", geminiBaseURL, defaultGeminiModel, opts)
}

func newOpenAICompat(name, envVar, baseURL, fallbackModel string, opts Options) (*OpenAIStreamer, error) {
	if opts.APIKey == "" {
		return nil, &MissingCredentialError{EnvVar: envVar}
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	model := opts.Model
	if model == "" {
		model = fallbackModel
	}

	return &OpenAIStreamer{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		opts:   opts,
	}, nil
}

func (s *OpenAIStreamer) Name() string { return s.name }

func (s *OpenAIStreamer) Stream(ctx context.Context, messages []Message, h StreamHandler) error {
	req := openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.opts.maxTokens(),
		Stream:    true,
		Messages: append(
			[]openai.ChatCompletionMessage{{
				Role:    openai.ChatMessageRoleSystem,
				Content: s.opts.systemPrompt(),
			}},
			adaptMessages(messages)...,
		),
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: starting stream: %w", s.name, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			h.OnDone()
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: stream: %w", s.name, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			h.OnDelta(delta)
		}
	}
}

// adaptMessages maps dashboard roles onto the wire roles the SDK expects,
// dropping anything unrecognized.
func adaptMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		var role string
		switch m.Role {
		case "user":
			role = openai.ChatMessageRoleUser
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		default:
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
