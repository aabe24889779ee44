package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parleybot/parley/internal/proto"
)

// OpenAIClient talks to the OpenAI Chat Completions API, or anything
// wire-compatible with it, through the official SDK.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a client for the given model. An empty
// baseURL uses the hosted API; pointing it elsewhere covers the many
// compatible gateways.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.model }

// Chat sends the transcript as a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (*Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, proto.WrapError(proto.KindProviderUnavailable, err, "openai chat request")
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Reply{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// Ping checks the API is reachable and the key is accepted.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return proto.WrapError(proto.KindProviderUnavailable, err, "openai ping")
	}
	return nil
}
