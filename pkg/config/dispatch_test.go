package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultDispatchConfig(t *testing.T) {
	cfg := DefaultDispatchConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	route, ok := cfg.TaskTypes["code_review"]
	if !ok {
		t.Fatal("default config missing code_review")
	}
	if route.Local.Model == "" || route.Remote.Provider != "anthropic" {
		t.Errorf("code_review route = %+v, want local and anthropic remote lanes", route)
	}
	if route.TimeoutSeconds != 60 {
		t.Errorf("code_review timeout = %d, want 60", route.TimeoutSeconds)
	}

	research, ok := cfg.TaskTypes["research"]
	if !ok {
		t.Fatal("default config missing research")
	}
	if research.Agent == "" {
		t.Error("research route has no agent")
	}
	if research.TimeoutSeconds != 300 {
		t.Errorf("research timeout = %d, want 300", research.TimeoutSeconds)
	}
	if len(research.Retrieval.Collections) == 0 {
		t.Error("research route has no retrieval collections")
	}

	if cfg.Eligibility.TokenCeiling != 8000 {
		t.Errorf("token ceiling = %d, want 8000", cfg.Eligibility.TokenCeiling)
	}
	if _, ok := cfg.Pricing["anthropic"]["default"]; !ok {
		t.Error("pricing missing anthropic default entry")
	}
}

func TestLoadDispatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	yaml := `
task_types:
  code_review:
    tier: LOCAL
    local:
      model: llama3.1:8b
    remote:
      provider: anthropic
      model: claude-sonnet-4-20250514
  research:
    tier: STANDARD
    agent: research-agent
    retrieval:
      collections: [papers]
eligibility:
  token_ceiling: 4000
trace:
  batch_size: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadDispatchConfig(path)
	if err != nil {
		t.Fatalf("LoadDispatchConfig() error = %v", err)
	}

	if cfg.Eligibility.TokenCeiling != 4000 {
		t.Errorf("token ceiling = %d, want 4000", cfg.Eligibility.TokenCeiling)
	}
	if cfg.Trace.BatchSize != 5 {
		t.Errorf("batch size = %d, want 5", cfg.Trace.BatchSize)
	}
	// Unset tunables pick up defaults.
	if cfg.Trace.MaxBuffer != 1000 {
		t.Errorf("max buffer = %d, want default 1000", cfg.Trace.MaxBuffer)
	}
	if cfg.TaskTypes["research"].TimeoutSeconds != 300 {
		t.Errorf("agent route timeout = %d, want default 300", cfg.TaskTypes["research"].TimeoutSeconds)
	}
	if cfg.TaskTypes["research"].Retrieval.TopK != 5 {
		t.Errorf("retrieval top_k = %d, want default 5", cfg.TaskTypes["research"].Retrieval.TopK)
	}
	if cfg.TaskTypes["code_review"].TimeoutSeconds != 60 {
		t.Errorf("model route timeout = %d, want default 60", cfg.TaskTypes["code_review"].TimeoutSeconds)
	}
}

func TestDispatchConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DispatchConfig)
		wantErr bool
	}{
		{
			name:    "default table valid",
			mutate:  func(cfg *DispatchConfig) {},
			wantErr: false,
		},
		{
			name: "unknown tier",
			mutate: func(cfg *DispatchConfig) {
				r := cfg.TaskTypes["code_review"]
				r.Tier = "TURBO"
				cfg.TaskTypes["code_review"] = r
			},
			wantErr: true,
		},
		{
			name: "tier below min tier",
			mutate: func(cfg *DispatchConfig) {
				r := cfg.TaskTypes["code_review"]
				r.Tier = "LOCAL"
				r.MinTier = "PREMIUM"
				cfg.TaskTypes["code_review"] = r
			},
			wantErr: true,
		},
		{
			name: "no execution target",
			mutate: func(cfg *DispatchConfig) {
				cfg.TaskTypes["orphan"] = TaskRoute{Tier: "LOCAL"}
			},
			wantErr: true,
		},
		{
			name: "require local without local model",
			mutate: func(cfg *DispatchConfig) {
				cfg.TaskTypes["bad"] = TaskRoute{
					Tier:         "LOCAL",
					RequireLocal: true,
					Remote:       RouteTarget{Provider: "openai", Model: "gpt-5.2-instant"},
				}
			},
			wantErr: true,
		},
		{
			name: "remote target without provider",
			mutate: func(cfg *DispatchConfig) {
				cfg.TaskTypes["bad"] = TaskRoute{
					Tier:   "STANDARD",
					Remote: RouteTarget{Model: "gpt-5.2-instant"},
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDispatchConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseEnv_defaults(t *testing.T) {
	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("ParseEnv() error = %v", err)
	}
	if e.ListenAddr == "" {
		t.Error("ListenAddr default not applied")
	}
	if e.LocalBaseURL == "" {
		t.Error("LocalBaseURL default not applied")
	}
}

func TestParseEnv_override(t *testing.T) {
	t.Setenv("TASKGATE_LISTEN_ADDR", ":9999")
	t.Setenv("TASKGATE_LOCAL_MODEL", "qwen2.5-coder:7b")

	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("ParseEnv() error = %v", err)
	}
	if e.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", e.ListenAddr)
	}
	if e.LocalModel != "qwen2.5-coder:7b" {
		t.Errorf("LocalModel = %q, want qwen2.5-coder:7b", e.LocalModel)
	}
}

func TestLoad_envOverFileKeys(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".taskgate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	fileYAML := `
api_keys:
  anthropic: file-anthropic-key
  openai: file-openai-key
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(fileYAML), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env.AnthropicAPIKey != "env-anthropic-key" {
		t.Errorf("AnthropicAPIKey = %q, want the environment value", cfg.Env.AnthropicAPIKey)
	}
	if cfg.Env.OpenAIAPIKey != "file-openai-key" {
		t.Errorf("OpenAIAPIKey = %q, want the file value filling the gap", cfg.Env.OpenAIAPIKey)
	}
	if cfg.HasProvider("google") {
		t.Error("HasProvider(google) = true with no key configured")
	}
	if !cfg.HasProvider("local") {
		t.Error("HasProvider(local) = false, local needs no key")
	}

	// No dispatch.yaml present, so the built-in table loads.
	if cfg.Dispatch == nil || len(cfg.Dispatch.TaskTypes) == 0 {
		t.Fatal("Dispatch config not defaulted")
	}
}
