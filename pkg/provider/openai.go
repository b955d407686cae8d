package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// OpenAI implements the Provider interface for OpenAI models. It serves the
// STANDARD tier.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates a new OpenAI provider.
func NewOpenAI(apiKey string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient()
	return &OpenAI{client: client}, nil
}

// Name returns the provider identifier.
func (o *OpenAI) Name() string {
	return "openai"
}

// Models returns the list of supported OpenAI models.
func (o *OpenAI) Models() []string {
	return []string{
		"gpt-5.2-instant",
		"gpt-5.2-thinking",
		"gpt-5.2-codex",
		"gpt-5.2-pro",
	}
}

// Generate sends a prompt to OpenAI and returns the response with usage.
func (o *OpenAI) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(4096),
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			CachedTokens:     int(resp.Usage.PromptTokensDetails.CachedTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
