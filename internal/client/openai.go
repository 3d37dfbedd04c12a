package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/rlmkit/rlm/internal/types"
)

// OpenAI talks to an OpenAI-compatible chat-completion endpoint, such
// as a local llama.cpp or vLLM server.
type OpenAI struct {
	api         openai.Client
	baseURL     string
	model       string
	temperature float64
	maxTokens   int64

	// One client may serve concurrent sessions; resolution must write
	// model exactly once.
	resolveOnce sync.Once
	resolveErr  error
}

// NewOpenAI builds a client for the given base URL. An empty model
// defaults to the "auto" sentinel, resolved later against the
// endpoint's model listing.
func NewOpenAI(baseURL, apiKey, model string, temperature float64, maxTokens int64) *OpenAI {
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = ModelAuto
	}
	return &OpenAI{
		api:         openai.NewClient(opts...),
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (c *OpenAI) Resolve(ctx context.Context) error {
	c.resolveOnce.Do(func() {
		if c.model != ModelAuto {
			return
		}
		page, err := c.api.Models.List(ctx)
		if err != nil {
			c.resolveErr = fmt.Errorf("list models at %s: %w", c.baseURL, err)
			return
		}
		if len(page.Data) == 0 {
			c.resolveErr = fmt.Errorf("model listing at %s returned no models", c.baseURL)
			return
		}
		c.model = page.Data[0].ID
		slog.Info("auto-selected model", "model", c.model, "endpoint", c.baseURL)
	})
	return c.resolveErr
}

func (c *OpenAI) Completion(ctx context.Context, messages []types.Message, modelOverride string) (*Response, error) {
	model := c.model
	if modelOverride != "" {
		model = modelOverride
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response from model %s", model)
	}

	out := &Response{Text: resp.Choices[0].Message.Content}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		out.Usage = &types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

func (c *OpenAI) Model() string {
	return c.model
}

func toOpenAIMessages(messages []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
