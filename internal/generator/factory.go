package generator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stellarlinkco/batchinfer/internal/config"
)

// NewRegistryFromConfig builds the closed set of generator variants named
// in the config. Selection happens here, once at startup; nothing in the
// dispatcher ever inspects a concrete implementation.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("generator: nil config")
	}

	r := NewRegistry()
	for name, pcfg := range cfg.LLM.Providers {
		key := strings.ToLower(strings.TrimSpace(name))
		switch key {
		case "":
			continue
		case "claude", "anthropic":
			r.Register(NewClaudeGenerator(pcfg.APIKey, pcfg.BaseURL, pcfg.Model))
		case "openai":
			r.Register(NewOpenAIGenerator(pcfg.APIKey, pcfg.BaseURL, pcfg.Model))
		case "local", "vllm":
			r.Register(NewLocalGenerator(pcfg.APIKey, pcfg.BaseURL, pcfg.Model))
		case "remote", "http":
			r.Register(NewRemoteGenerator(pcfg.BaseURL, pcfg.APIKey, pcfg.Model))
		default:
			return nil, fmt.Errorf("generator: unknown provider %q", name)
		}
	}

	return r, nil
}

// DefaultFromConfig resolves the configured default generator.
func DefaultFromConfig(cfg *config.Config) (Generator, error) {
	if cfg == nil {
		return nil, errors.New("generator: nil config")
	}
	reg, err := NewRegistryFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(cfg.LLM.DefaultProvider)
	if name == "" {
		name = "claude"
	}
	if g, ok := reg.Get(name); ok {
		return g, nil
	}

	if len(reg.generators) == 1 {
		for _, g := range reg.generators {
			return g, nil
		}
	}

	available := reg.Names()
	sort.Strings(available)
	return nil, fmt.Errorf("generator: default provider %q not configured (available: %s)", name, strings.Join(available, ", "))
}
