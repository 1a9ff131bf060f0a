package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
}

type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider,omitempty"`
	Providers       map[string]ProviderConfig `yaml:"providers,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// DispatchConfig holds batch execution parameters. Rate is the sustained
// request rate (QPS); WorkerCap bounds concurrent workers independent of
// workload size.
type DispatchConfig struct {
	Rate              float64       `yaml:"rate,omitempty"`
	WorkerCap         int           `yaml:"worker_cap,omitempty"`
	MaxRetries        int           `yaml:"max_retries,omitempty"`
	BaseDelay         time.Duration `yaml:"base_delay,omitempty"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier,omitempty"`
	JitterFraction    float64       `yaml:"jitter_fraction,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	Temperature       float64       `yaml:"temperature,omitempty"`
	TopP              float64       `yaml:"top_p,omitempty"`
	MaxTokens         int           `yaml:"max_tokens,omitempty"`
}

type StorageConfig struct {
	Type string `yaml:"type,omitempty"` // "sqlite" or "memory"
	Path string `yaml:"path,omitempty"` // SQLite file path
}

type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
	// RequestsPerSecond caps inbound API requests; zero disables the cap.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Default returns a config with defaults applied, for callers running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]ProviderConfig)
	}
	if strings.TrimSpace(cfg.LLM.DefaultProvider) == "" {
		cfg.LLM.DefaultProvider = "claude"
	}

	if cfg.Dispatch.Rate <= 0 {
		cfg.Dispatch.Rate = 5
	}
	if cfg.Dispatch.WorkerCap <= 0 {
		cfg.Dispatch.WorkerCap = 10
	}
	if cfg.Dispatch.MaxRetries <= 0 {
		cfg.Dispatch.MaxRetries = 3
	}
	if cfg.Dispatch.BaseDelay <= 0 {
		cfg.Dispatch.BaseDelay = time.Second
	}
	if cfg.Dispatch.BackoffMultiplier < 1 {
		cfg.Dispatch.BackoffMultiplier = 2.0
	}
	if cfg.Dispatch.JitterFraction <= 0 {
		cfg.Dispatch.JitterFraction = 0.1
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		p := cfg.LLM.Providers["claude"]
		p.APIKey = v
		cfg.LLM.Providers["claude"] = p
	} else if v := strings.TrimSpace(os.Getenv("ANTHROPIC_AUTH_TOKEN")); v != "" {
		p := cfg.LLM.Providers["claude"]
		p.APIKey = v
		cfg.LLM.Providers["claude"] = p
	}

	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		p := cfg.LLM.Providers["openai"]
		p.APIKey = v
		cfg.LLM.Providers["openai"] = p
	}
}
