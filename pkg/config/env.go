package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the runtime settings read from the environment: endpoints,
// credentials, and the listen address. The dispatch table lives in YAML;
// these are the deployment-specific knobs.
type Env struct {
	ListenAddr         string  `env:"TASKGATE_LISTEN_ADDR" envDefault:":8089"`
	LocalBaseURL       string  `env:"TASKGATE_LOCAL_URL" envDefault:"http://localhost:11434"`
	LocalModel         string  `env:"TASKGATE_LOCAL_MODEL" envDefault:"llama3.1:8b"`
	AgentBaseURL       string  `env:"TASKGATE_AGENT_URL" envDefault:"http://localhost:8185"`
	RetrievalBaseURL   string  `env:"TASKGATE_RETRIEVAL_URL" envDefault:"http://localhost:8184"`
	TraceSinkURL       string  `env:"TASKGATE_TRACE_SINK_URL"`
	DispatchConfigPath string  `env:"TASKGATE_DISPATCH_CONFIG"`
	MaxBudgetUSD       float64 `env:"TASKGATE_MAX_BUDGET_USD"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	GoogleAPIKey    string `env:"GOOGLE_API_KEY"`
}

// ParseEnv reads the environment into an Env.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}
