package chat

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicStreamer streams chat completions from the Anthropic Messages
// API.
type AnthropicStreamer struct {
	client anthropic.Client
	model  anthropic.Model
	opts   Options
}

func NewAnthropic(opts Options) (*AnthropicStreamer, error) {
	if opts.APIKey == "" {
		return nil, &MissingCredentialError{EnvVar: "ANTHROPIC_API_KEY"}
	}

	model := opts.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	return &AnthropicStreamer{
		client: anthropic.NewClient(option.WithAPIKey(opts.APIKey)),
		model:  anthropic.Model(model),
		opts:   opts,
	}, nil
}

func (s *AnthropicStreamer) Name() string { return "anthropic" }

func (s *AnthropicStreamer) Stream(ctx context.Context, messages []Message, h StreamHandler) error {
	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: int64(s.opts.maxTokens()),
		System: []anthropic.TextBlockParam{
			{Text: s.opts.systemPrompt()},
		},
		Messages: adaptAnthropicMessages(messages),
	}

	stream := s.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					h.OnDelta(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic: stream: %w", err)
	}

	h.OnDone()
	return nil
}

func adaptAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}
