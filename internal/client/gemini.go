package client

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/rlmkit/rlm/internal/types"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini is the alternative backend for the Gemini API. It has no
// OpenAI-style model listing, so the "auto" sentinel is rejected; an
// empty model falls back to a fixed default.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(apiKey string, model string) (*Gemini, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini backend requires an API key")
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	return &Gemini{client: client, model: model}, nil
}

func (c *Gemini) Resolve(ctx context.Context) error {
	if c.model == ModelAuto {
		return fmt.Errorf("model %q: auto-selection requires an OpenAI-compatible endpoint", c.model)
	}
	return nil
}

func (c *Gemini) Completion(ctx context.Context, messages []types.Message, modelOverride string) (*Response, error) {
	model := c.model
	if modelOverride != "" {
		model = modelOverride
	}

	var contents []*genai.Content
	var systemInstruction *genai.Content
	for _, msg := range messages {
		if msg.Role == "system" {
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
			continue
		}
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	config := &genai.GenerateContentConfig{}
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from model %s", model)
	}

	out := &Response{Text: resp.Candidates[0].Content.Parts[0].Text}
	if resp.UsageMetadata != nil {
		out.Usage = &types.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (c *Gemini) Model() string {
	return c.model
}
