package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/taskgate/pkg/provider"
)

// DispatchConfig holds the dispatch table: task types, their lanes and
// tiers, plus the tunables for eligibility, health probing, tracing,
// retrieval, budget, and pricing.
type DispatchConfig struct {
	TaskTypes   map[string]TaskRoute `yaml:"task_types"`
	Eligibility EligibilityConfig    `yaml:"eligibility,omitempty"`
	Health      HealthConfig         `yaml:"health,omitempty"`
	Trace       TraceConfig          `yaml:"trace,omitempty"`
	Retrieval   RetrievalConfig      `yaml:"retrieval,omitempty"`
	Budget      BudgetConfig         `yaml:"budget,omitempty"`
	Pricing     Pricing              `yaml:"pricing,omitempty"`
}

// TaskRoute defines how one task type executes. A route either delegates to
// a named agent or targets models directly; direct routes may carry a local
// lane, a remote lane, or both.
type TaskRoute struct {
	Tier           string         `yaml:"tier"`
	MinTier        string         `yaml:"min_tier,omitempty"`
	Agent          string         `yaml:"agent,omitempty"`
	Local          RouteTarget    `yaml:"local,omitempty"`
	Remote         RouteTarget    `yaml:"remote,omitempty"`
	RequireLocal   bool           `yaml:"require_local,omitempty"`
	Retrieval      RouteRetrieval `yaml:"retrieval,omitempty"`
	TimeoutSeconds int            `yaml:"timeout_seconds,omitempty"`
}

// RouteTarget specifies a provider and model combination. Local targets
// leave Provider empty.
type RouteTarget struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// RouteRetrieval configures context retrieval for a route.
type RouteRetrieval struct {
	Collections []string `yaml:"collections,omitempty"`
	TopK        int      `yaml:"top_k,omitempty"`
}

// EligibilityConfig holds the local-eligibility allow-list and size bound.
type EligibilityConfig struct {
	AllowedTaskTypes []string `yaml:"allowed_task_types,omitempty"`
	TokenCeiling     int      `yaml:"token_ceiling,omitempty"`
}

// HealthConfig tunes the local provider health monitor.
type HealthConfig struct {
	IntervalSeconds int `yaml:"interval_seconds,omitempty"`
	TimeoutSeconds  int `yaml:"timeout_seconds,omitempty"`
}

// TraceConfig tunes the trace emitter's buffering.
type TraceConfig struct {
	BatchSize            int `yaml:"batch_size,omitempty"`
	FlushIntervalSeconds int `yaml:"flush_interval_seconds,omitempty"`
	MaxBuffer            int `yaml:"max_buffer,omitempty"`
}

// RetrievalConfig tunes context retrieval.
type RetrievalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
	MaxParallel    int `yaml:"max_parallel,omitempty"`
	MaxChunkChars  int `yaml:"max_chunk_chars,omitempty"`
}

// BudgetConfig holds the advisory spend ceiling.
type BudgetConfig struct {
	MaxUSD float64 `yaml:"max_usd,omitempty"`
}

// Pricing maps provider -> model -> pricing.
type Pricing map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// LoadDispatchConfig reads a dispatch table from a YAML file.
func LoadDispatchConfig(path string) (*DispatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg DispatchConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDispatchDefaults(&cfg)
	return &cfg, nil
}

// DefaultDispatchConfig returns the built-in dispatch table.
func DefaultDispatchConfig() *DispatchConfig {
	cfg := &DispatchConfig{
		TaskTypes: map[string]TaskRoute{
			"code_review": {
				Tier:    "LOCAL",
				MinTier: "LOCAL",
				Local:   RouteTarget{Model: "llama3.1:8b"},
				Remote:  RouteTarget{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
			},
			"refactor": {
				Tier:   "LOCAL",
				Local:  RouteTarget{Model: "qwen2.5-coder:7b"},
				Remote: RouteTarget{Provider: "openai", Model: "gpt-5.2-codex"},
			},
			"lint": {
				Tier:   "LOCAL",
				Local:  RouteTarget{Model: "qwen2.5-coder:7b"},
				Remote: RouteTarget{Provider: "google", Model: "gemini-2.0-flash"},
			},
			"doc_generation": {
				Tier:   "LOCAL",
				Local:  RouteTarget{Model: "llama3.1:8b"},
				Remote: RouteTarget{Provider: "openai", Model: "gpt-5.2-instant"},
			},
			"summarize": {
				Tier:   "ECONOMY",
				Local:  RouteTarget{Model: "llama3.1:8b"},
				Remote: RouteTarget{Provider: "google", Model: "gemini-2.0-flash"},
			},
			"format_check": {
				Tier:         "LOCAL",
				RequireLocal: true,
				Local:        RouteTarget{Model: "llama3.1:8b"},
			},
			"research": {
				Tier:  "STANDARD",
				Agent: "research-agent",
				Retrieval: RouteRetrieval{
					Collections: []string{"research_papers", "working_notes"},
					TopK:        5,
				},
			},
			"synthesis": {
				Tier:  "STANDARD",
				Agent: "synthesis-agent",
				Retrieval: RouteRetrieval{
					Collections: []string{"working_notes"},
					TopK:        8,
				},
			},
			"compliance_review": {
				Tier:    "PREMIUM",
				MinTier: "STANDARD",
				Remote:  RouteTarget{Provider: "anthropic", Model: "claude-opus-4-20250514"},
			},
		},
		Eligibility: EligibilityConfig{
			AllowedTaskTypes: []string{
				"code_review",
				"refactor",
				"lint",
				"doc_generation",
				"summarize",
				"format_check",
			},
			TokenCeiling: 8000,
		},
		Pricing: Pricing{
			"anthropic": {
				"claude-sonnet-4-20250514": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
				"claude-opus-4-20250514":   {PromptPer1K: 0.015, CompletionPer1K: 0.075},
				"default":                  {PromptPer1K: 0.003, CompletionPer1K: 0.015},
			},
			"openai": {
				"gpt-5.2-instant":  {PromptPer1K: 0.0005, CompletionPer1K: 0.002},
				"gpt-5.2-thinking": {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
				"gpt-5.2-codex":    {PromptPer1K: 0.00125, CompletionPer1K: 0.01},
				"gpt-5.2-pro":      {PromptPer1K: 0.01, CompletionPer1K: 0.04},
				"default":          {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
			},
			"google": {
				"gemini-2.0-pro":   {PromptPer1K: 0.00125, CompletionPer1K: 0.01},
				"gemini-2.0-flash": {PromptPer1K: 0.000075, CompletionPer1K: 0.0003},
				"default":          {PromptPer1K: 0.000075, CompletionPer1K: 0.0003},
			},
		},
	}

	applyDispatchDefaults(cfg)
	return cfg
}

func applyDispatchDefaults(cfg *DispatchConfig) {
	if cfg == nil {
		return
	}
	if cfg.Health.IntervalSeconds == 0 {
		cfg.Health.IntervalSeconds = 30
	}
	if cfg.Health.TimeoutSeconds == 0 {
		cfg.Health.TimeoutSeconds = 5
	}
	if cfg.Trace.BatchSize == 0 {
		cfg.Trace.BatchSize = 20
	}
	if cfg.Trace.FlushIntervalSeconds == 0 {
		cfg.Trace.FlushIntervalSeconds = 10
	}
	if cfg.Trace.MaxBuffer == 0 {
		cfg.Trace.MaxBuffer = 1000
	}
	if cfg.Retrieval.TimeoutSeconds == 0 {
		cfg.Retrieval.TimeoutSeconds = 10
	}
	if cfg.Retrieval.MaxParallel == 0 {
		cfg.Retrieval.MaxParallel = 4
	}
	if cfg.Retrieval.MaxChunkChars == 0 {
		cfg.Retrieval.MaxChunkChars = 2000
	}
	if cfg.Eligibility.TokenCeiling == 0 {
		cfg.Eligibility.TokenCeiling = 8000
	}

	for name, route := range cfg.TaskTypes {
		if route.TimeoutSeconds == 0 {
			// Agent delegations run multi-step work; direct model calls
			// are bounded much tighter.
			if route.Agent != "" {
				route.TimeoutSeconds = 300
			} else {
				route.TimeoutSeconds = 60
			}
		}
		if len(route.Retrieval.Collections) > 0 && route.Retrieval.TopK == 0 {
			route.Retrieval.TopK = 5
		}
		cfg.TaskTypes[name] = route
	}
}

// Validate checks the dispatch table for unroutable or inconsistent
// entries.
func (cfg *DispatchConfig) Validate() error {
	if cfg == nil {
		return fmt.Errorf("dispatch config is nil")
	}
	if len(cfg.TaskTypes) == 0 {
		return fmt.Errorf("dispatch config has no task types")
	}

	for name, route := range cfg.TaskTypes {
		tier, err := provider.ParseTier(route.Tier)
		if err != nil {
			return fmt.Errorf("task type %s: %w", name, err)
		}
		if route.MinTier != "" {
			minTier, err := provider.ParseTier(route.MinTier)
			if err != nil {
				return fmt.Errorf("task type %s: %w", name, err)
			}
			if !tier.AtLeast(minTier) {
				return fmt.Errorf("task type %s: tier %s is below min_tier %s", name, route.Tier, route.MinTier)
			}
		}
		if route.Agent == "" && route.Local.Model == "" && route.Remote.Model == "" {
			return fmt.Errorf("task type %s has no agent, local, or remote target", name)
		}
		if route.RequireLocal && route.Local.Model == "" {
			return fmt.Errorf("task type %s requires local execution but has no local model", name)
		}
		if route.RequireLocal && route.MinTier != "" && route.MinTier != string(provider.TierLocal) {
			return fmt.Errorf("task type %s requires local execution but min_tier %s excludes it", name, route.MinTier)
		}
		if route.Remote.Model != "" && route.Remote.Provider == "" {
			return fmt.Errorf("task type %s remote target has no provider", name)
		}
		if route.Retrieval.TopK < 0 {
			return fmt.Errorf("task type %s has negative retrieval top_k", name)
		}
	}
	return nil
}
