package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Google implements the Provider interface for Gemini models. It serves the
// ECONOMY tier.
type Google struct {
	client *genai.Client
}

// NewGoogle creates a new Google Gemini provider.
func NewGoogle(apiKey string) (*Google, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &Google{client: client}, nil
}

// Name returns the provider identifier.
func (g *Google) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (g *Google) Models() []string {
	return []string{
		"gemini-2.0-pro",
		"gemini-2.0-flash",
	}
}

// Generate sends a prompt to Gemini and returns the response with usage.
func (g *Google) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("google API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("google returned no candidates")
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	out := &Response{Content: content, Model: model}
	if resp.UsageMetadata != nil {
		out.Usage = &Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			CachedTokens:     int(resp.UsageMetadata.CachedContentTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}
