package cost

import (
	"math"
	"testing"
	"time"

	"github.com/zen-systems/taskgate/pkg/config"
	"github.com/zen-systems/taskgate/pkg/provider"
)

func testPricing() config.Pricing {
	return config.Pricing{
		"openai": {
			"gpt-5.2-thinking": {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
			"default":          {PromptPer1K: 0.001, CompletionPer1K: 0.004},
		},
		"anthropic": {
			"claude-opus-4-20250514": {PromptPer1K: 0.015, CompletionPer1K: 0.075},
		},
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAccountant_EnvelopeFor_exactCounts(t *testing.T) {
	a := NewAccountant(testPricing(), 0)

	env := a.EnvelopeFor(CallInfo{
		Provider: "openai",
		Tier:     provider.TierStandard,
		Model:    "gpt-5.2-thinking",
		Usage:    &provider.Usage{PromptTokens: 1000, CompletionTokens: 1000},
		Latency:  250 * time.Millisecond,
	})

	if env.TokensIn != 1000 || env.TokensOut != 1000 {
		t.Errorf("tokens = %d/%d, want 1000/1000", env.TokensIn, env.TokensOut)
	}
	if !almostEqual(env.CostUSD, 0.0125) {
		t.Errorf("CostUSD = %v, want 0.0125", env.CostUSD)
	}
	if env.LatencyMs != 250 {
		t.Errorf("LatencyMs = %d, want 250", env.LatencyMs)
	}
}

func TestAccountant_EnvelopeFor_localAlwaysZeroCost(t *testing.T) {
	pricing := testPricing()
	pricing["local"] = map[string]config.ModelPricing{
		"default": {PromptPer1K: 99, CompletionPer1K: 99},
	}
	a := NewAccountant(pricing, 0)

	env := a.EnvelopeFor(CallInfo{
		Provider: "local",
		Tier:     provider.TierLocal,
		Model:    "llama3.1:8b",
		Usage:    &provider.Usage{PromptTokens: 1000, CompletionTokens: 500},
	})

	if env.CostUSD != 0 {
		t.Errorf("CostUSD = %v, want 0 for local tier", env.CostUSD)
	}
	if env.TokensIn != 1000 || env.TokensOut != 500 {
		t.Errorf("tokens = %d/%d, want exact endpoint counts 1000/500", env.TokensIn, env.TokensOut)
	}
}

func TestAccountant_EnvelopeFor_fallbackEstimation(t *testing.T) {
	a := NewAccountant(nil, 0)

	promptText := make([]byte, 400)
	outputText := make([]byte, 120)
	for i := range promptText {
		promptText[i] = 'a'
	}
	for i := range outputText {
		outputText[i] = 'b'
	}

	env := a.EnvelopeFor(CallInfo{
		Provider:   "local",
		Tier:       provider.TierLocal,
		Model:      "llama3.1:8b",
		Usage:      nil,
		PromptText: string(promptText),
		OutputText: string(outputText),
	})

	if env.TokensIn != 100 {
		t.Errorf("TokensIn = %d, want 100 (len/4 estimate)", env.TokensIn)
	}
	if env.TokensOut != 30 {
		t.Errorf("TokensOut = %d, want 30 (len/4 estimate)", env.TokensOut)
	}
	if env.TokensIn == 0 || env.TokensOut == 0 {
		t.Error("fallback estimation produced zero tokens")
	}
}

func TestAccountant_EnvelopeFor_defaultPricingFallback(t *testing.T) {
	a := NewAccountant(testPricing(), 0)

	env := a.EnvelopeFor(CallInfo{
		Provider: "openai",
		Tier:     provider.TierStandard,
		Model:    "gpt-5.2-instant",
		Usage:    &provider.Usage{PromptTokens: 1000, CompletionTokens: 1000},
	})

	if !almostEqual(env.CostUSD, 0.005) {
		t.Errorf("CostUSD = %v, want 0.005 from default entry", env.CostUSD)
	}
}

func TestAccountant_RecordTotals(t *testing.T) {
	a := NewAccountant(testPricing(), 0)

	a.Record(Envelope{Provider: "openai", Model: "gpt-5.2-thinking", Stage: "stage_7", TokensIn: 100, TokensOut: 50, CostUSD: 0.5})
	a.Record(Envelope{Provider: "openai", Model: "gpt-5.2-thinking", Stage: "stage_7", TokensIn: 200, TokensOut: 80, CostUSD: 0.25})
	a.Record(Envelope{Provider: "local", Model: "llama3.1:8b", TokensIn: 1000, TokensOut: 500, CostUSD: 0})

	if got := a.Total(); !almostEqual(got, 0.75) {
		t.Errorf("Total() = %v, want 0.75", got)
	}

	r := a.Report()
	if r.Envelopes != 3 {
		t.Errorf("Envelopes = %d, want 3", r.Envelopes)
	}
	if r.TotalTokensIn != 1300 || r.TotalTokensOut != 630 {
		t.Errorf("token totals = %d/%d, want 1300/630", r.TotalTokensIn, r.TotalTokensOut)
	}
	if b := r.ByProvider["openai"]; b.Calls != 2 || !almostEqual(b.CostUSD, 0.75) {
		t.Errorf("openai bucket = %+v, want 2 calls costing 0.75", b)
	}
	if b := r.ByProvider["local"]; b.Calls != 1 || b.CostUSD != 0 {
		t.Errorf("local bucket = %+v, want 1 free call", b)
	}
	if b := r.ByStage["stage_7"]; b.Calls != 2 {
		t.Errorf("stage bucket = %+v, want 2 calls", b)
	}
}

func TestAccountant_IsBudgetExceeded(t *testing.T) {
	a := NewAccountant(nil, 0)
	a.Record(Envelope{Provider: "openai", CostUSD: 5})

	tests := []struct {
		name   string
		maxUSD float64
		want   bool
	}{
		{name: "unlimited", maxUSD: 0, want: false},
		{name: "under budget", maxUSD: 10, want: false},
		{name: "at budget", maxUSD: 5, want: true},
		{name: "over budget", maxUSD: 4, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.IsBudgetExceeded(tt.maxUSD); got != tt.want {
				t.Errorf("IsBudgetExceeded(%v) = %v, want %v", tt.maxUSD, got, tt.want)
			}
		})
	}
}

func TestAccountant_Report_budgetLevels(t *testing.T) {
	tests := []struct {
		name  string
		spent float64
		want  string
	}{
		{name: "ok", spent: 1, want: BudgetOK},
		{name: "warning", spent: 7.5, want: BudgetWarning},
		{name: "critical", spent: 9, want: BudgetCritical},
		{name: "exceeded", spent: 10, want: BudgetExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAccountant(nil, 10)
			a.Record(Envelope{Provider: "openai", CostUSD: tt.spent})

			r := a.Report()
			if r.Budget == nil {
				t.Fatal("Report() budget = nil, want status")
			}
			if r.Budget.Level != tt.want {
				t.Errorf("budget level = %q, want %q", r.Budget.Level, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short text rounds up to one", text: "ab", want: 1},
		{name: "four chars per token", text: "abcdefgh", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}
