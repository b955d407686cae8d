package provider

import (
	"context"
	"fmt"
)

// Provider defines the interface for model execution backends.
type Provider interface {
	// Generate sends a prompt to the model and returns the completed response.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the provider's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// StreamingProvider is implemented by providers that can deliver
// incremental output. The returned channel is closed by the producer;
// cancelling ctx releases the underlying stream.
type StreamingProvider interface {
	Provider

	GenerateStream(ctx context.Context, model string, prompt string) (<-chan Chunk, error)
}

// Response wraps a completed generation and optional usage data.
type Response struct {
	Content string
	Model   string
	Usage   *Usage
}

// Chunk is one increment of a streamed generation. The terminal chunk
// carries Done=true and, when the backend reports them, token counts.
type Chunk struct {
	Content string
	Done    bool
	Usage   *Usage
	Err     error
}

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CachedTokens     int `json:"cached_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

// Tier classifies providers by cost and capability.
type Tier string

const (
	TierLocal    Tier = "LOCAL"
	TierEconomy  Tier = "ECONOMY"
	TierStandard Tier = "STANDARD"
	TierPremium  Tier = "PREMIUM"
)

var tierRanks = map[Tier]int{
	TierLocal:    0,
	TierEconomy:  1,
	TierStandard: 2,
	TierPremium:  3,
}

// ParseTier converts a configuration string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierRanks[t]; !ok {
		return "", fmt.Errorf("unknown provider tier %q", s)
	}
	return t, nil
}

// Rank returns the tier's position in the LOCAL < ECONOMY < STANDARD < PREMIUM
// ordering. Unknown tiers rank below LOCAL.
func (t Tier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether t satisfies a minimum acceptable tier.
func (t Tier) AtLeast(min Tier) bool {
	return t.Rank() >= min.Rank()
}
