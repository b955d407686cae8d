package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Env       Env
	Dispatch  *DispatchConfig
	ConfigDir string
}

// FileConfig represents the structure of ~/.taskgate/config.yaml
type FileConfig struct {
	APIKeys APIKeysConfig `yaml:"api_keys"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
}

// Load reads configuration from the environment, the config directory, and
// the dispatch table. Environment variables take precedence over file
// configuration.
func Load() (*Config, error) {
	e, err := ParseEnv()
	if err != nil {
		return nil, err
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	// File-held API keys fill in whatever the environment left empty.
	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if e.AnthropicAPIKey == "" {
		e.AnthropicAPIKey = fileConfig.APIKeys.Anthropic
	}
	if e.OpenAIAPIKey == "" {
		e.OpenAIAPIKey = fileConfig.APIKeys.OpenAI
	}
	if e.GoogleAPIKey == "" {
		e.GoogleAPIKey = fileConfig.APIKeys.Google
	}

	cfg := &Config{Env: e, ConfigDir: configDir}

	dispatchPath := e.DispatchConfigPath
	if dispatchPath == "" {
		candidate := filepath.Join(configDir, "dispatch.yaml")
		if _, err := os.Stat(candidate); err == nil {
			dispatchPath = candidate
		}
	}
	if dispatchPath != "" {
		dispatch, err := LoadDispatchConfig(dispatchPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load dispatch config from %s: %w", dispatchPath, err)
		}
		cfg.Dispatch = dispatch
	} else {
		cfg.Dispatch = DefaultDispatchConfig()
	}

	return cfg, nil
}

// HasProvider returns true if the API key for the given hosted provider is
// configured. The local provider needs no key.
func (c *Config) HasProvider(name string) bool {
	switch name {
	case "anthropic":
		return c.Env.AnthropicAPIKey != ""
	case "openai":
		return c.Env.OpenAIAPIKey != ""
	case "google":
		return c.Env.GoogleAPIKey != ""
	case "local":
		return true
	default:
		return false
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg // Return empty config if file doesn't exist
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".taskgate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
