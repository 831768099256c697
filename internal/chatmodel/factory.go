package chatmodel

import (
	"context"
	"fmt"
	"sync"

	"github.com/ddalcu/agent-orcha/internal/chatmodel/providers"
)

// ProviderConfig is one named, loadable model configuration: which backend to
// use and its connection parameters. AgentDefinition.LLM.Name indexes into a
// map of these, resolved by the host application before Factory sees them.
type ProviderConfig struct {
	Backend string `yaml:"backend" json:"backend"` // "anthropic" | "openai" | "google"
	Model   string `yaml:"model" json:"model"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// Factory builds and caches Model instances keyed by (configName,
// effectiveTemperature): the same (config, temperature) pair always
// resolves to the same underlying Model value.
type Factory struct {
	mu      sync.Mutex
	configs map[string]ProviderConfig
	cache   map[cacheKey]Model
}

type cacheKey struct {
	configName  string
	temperature float64
}

// NewFactory builds a Factory over the given named configurations.
func NewFactory(configs map[string]ProviderConfig) *Factory {
	return &Factory{
		configs: configs,
		cache:   make(map[cacheKey]Model),
	}
}

// Get returns the Model for configName at the given temperature, building
// and caching it on first use. temperature is nil when the agent definition
// doesn't override it; 0.0 is used as the cache key in that case.
func (f *Factory) Get(ctx context.Context, configName string, temperature *float64) (Model, error) {
	temp := 0.0
	if temperature != nil {
		temp = *temperature
	}
	key := cacheKey{configName: configName, temperature: temp}

	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.cache[key]; ok {
		return m, nil
	}

	cfg, ok := f.configs[configName]
	if !ok {
		return nil, fmt.Errorf("chatmodel: no configuration named %q", configName)
	}

	m, err := f.build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("chatmodel: building %q: %w", configName, err)
	}
	f.cache[key] = m
	return m, nil
}

func (f *Factory) build(ctx context.Context, cfg ProviderConfig) (Model, error) {
	switch cfg.Backend {
	case "anthropic":
		p, err := providers.NewAnthropic(providers.AnthropicConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, DefaultModel: cfg.Model})
		if err != nil {
			return nil, err
		}
		return New(p), nil
	case "openai":
		p, err := providers.NewOpenAICompatible(providers.OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, DefaultModel: cfg.Model})
		if err != nil {
			return nil, err
		}
		return New(p), nil
	case "google":
		p, err := providers.NewGoogle(ctx, providers.GoogleConfig{APIKey: cfg.APIKey, DefaultModel: cfg.Model})
		if err != nil {
			return nil, err
		}
		return New(p), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
