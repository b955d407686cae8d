package cost

import (
	"time"

	"github.com/zen-systems/taskgate/pkg/config"
	"github.com/zen-systems/taskgate/pkg/provider"
)

// Envelope records token usage and cost for one completed provider call.
// Local-provider calls always carry CostUSD == 0.
type Envelope struct {
	Provider     string        `json:"provider"`
	Tier         provider.Tier `json:"tier"`
	Model        string        `json:"model"`
	Stage        string        `json:"stage,omitempty"`
	TokensIn     int           `json:"tokensIn"`
	TokensOut    int           `json:"tokensOut"`
	TokensCached int           `json:"tokensCached,omitempty"`
	CostUSD      float64       `json:"costUsd"`
	LatencyMs    int64         `json:"latencyMs"`
	Timestamp    time.Time     `json:"timestamp"`
}

// CallInfo describes a completed provider call for envelope construction.
type CallInfo struct {
	Provider   string
	Tier       provider.Tier
	Model      string
	Stage      string
	Usage      *provider.Usage
	PromptText string
	OutputText string
	Latency    time.Duration
}

// EstimateTokens is the fallback token estimate used when a provider reports
// no counts: roughly four characters per token, never zero for non-empty
// text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// normalizeUsage fills in the total when the provider reported only the
// parts.
func normalizeUsage(u *provider.Usage) provider.Usage {
	if u == nil {
		return provider.Usage{}
	}
	usage := *u
	if usage.TotalTokens == 0 && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// estimateCost prices a call from per-1k token rates. The bool result
// reports whether a pricing entry existed.
func estimateCost(pricing config.Pricing, providerName, model string, usage provider.Usage) (float64, bool) {
	entry, ok := pricingFor(pricing, providerName, model)
	if !ok {
		return 0, false
	}
	promptCost := (float64(usage.PromptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * entry.CompletionPer1K
	return promptCost + completionCost, true
}

// pricingFor resolves a pricing entry, falling back to the provider's
// "default" entry when the model has none.
func pricingFor(pricing config.Pricing, providerName, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	if providerPricing, ok := pricing[providerName]; ok {
		if entry, ok := providerPricing[model]; ok {
			return entry, true
		}
		if entry, ok := providerPricing["default"]; ok {
			return entry, true
		}
	}
	return config.ModelPricing{}, false
}
