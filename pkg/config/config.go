package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdgilhuly/go_llm_fallback/pkg/provider"
)

// Provider backend types.
const (
	TypeOllama      = "ollama"
	TypeOpenAI      = "openai"
	TypeHuggingFace = "huggingface"
)

// Config holds the dispatcher configuration. The order of Providers is the
// fallback priority.
type Config struct {
	Providers      []ProviderConfig `yaml:"providers"`
	Defaults       Defaults         `yaml:"defaults"`
	AttemptTimeout time.Duration    `yaml:"attempt_timeout"`
	LogLevel       string           `yaml:"log_level"`
}

// ProviderConfig holds configuration for a single completion provider.
type ProviderConfig struct {
	Name              string        `yaml:"name"`
	Type              string        `yaml:"type"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// Defaults holds generation parameters applied when a request omits them.
type Defaults struct {
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// Default returns a Config with the Ollama → Groq → Together AI →
// Hugging Face chain.
func Default() *Config {
	temp := 0.1
	return &Config{
		Providers: []ProviderConfig{
			{Name: "ollama", Type: TypeOllama, Model: provider.DefaultOllamaModel, Timeout: provider.DefaultOllamaTimeout},
			{Name: "groq", Type: TypeOpenAI, Model: provider.GroqModel, BaseURL: provider.GroqBaseURL, APIKeyEnv: "GROQ_API_KEY", Timeout: provider.DefaultHostedTimeout},
			{Name: "together", Type: TypeOpenAI, Model: provider.TogetherModel, BaseURL: provider.TogetherBaseURL, APIKeyEnv: "TOGETHER_API_KEY", Timeout: provider.DefaultHostedTimeout},
			{Name: "huggingface", Type: TypeHuggingFace, Model: provider.HuggingFaceModel, BaseURL: provider.HuggingFaceBaseURL, APIKeyEnv: "HUGGINGFACE_API_KEY", Timeout: provider.DefaultHostedTimeout},
		},
		Defaults: Defaults{
			MaxTokens:   2000,
			Temperature: &temp,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file at the given path. Fields absent
// from the file keep their defaults; a providers list in the file replaces
// the default chain entirely.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := Default()
	cfg.Providers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = Default().Providers
	}

	return cfg, nil
}

// LoadOrDefault loads config from the given path. If the file does not exist,
// it returns the default configuration. Other errors (e.g. parse failures)
// are still returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// ResolveAPIKey reads the provider's API key through getenv. A provider
// without api_key_env resolves to an empty key and no error; a configured but
// unset variable is reported so callers can explain why the provider is
// unavailable.
func (p ProviderConfig) ResolveAPIKey(getenv func(string) string) (string, error) {
	if p.APIKeyEnv == "" {
		return "", nil
	}
	key := getenv(p.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s for provider %q is not set", p.APIKeyEnv, p.Name)
	}
	return key, nil
}

// Validate checks the config for required fields and returns a descriptive
// error if any are missing or invalid.
func (c *Config) Validate() error {
	var errs []error

	if c.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("attempt_timeout must be >= 0, got %s", c.AttemptTimeout))
	}
	if c.Defaults.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("defaults.max_tokens must be >= 0, got %d", c.Defaults.MaxTokens))
	}
	if t := c.Defaults.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("defaults.temperature must be within [0, 2], got %g", *t))
	}
	if c.LogLevel != "" {
		if _, err := parseLevel(c.LogLevel); err != nil {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("provider %s: name is required", label))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Errorf("provider %q: duplicate name", p.Name))
		}
		seen[p.Name] = true

		switch p.Type {
		case TypeOllama:
		case TypeOpenAI, TypeHuggingFace:
			if p.APIKeyEnv == "" {
				errs = append(errs, fmt.Errorf("provider %q: api_key_env is required for type %s", label, p.Type))
			}
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", label, p.Type))
		}
		if p.Type == TypeOpenAI && p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider %q: base_url is required for type openai", label))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("provider %q: model is required", label))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("provider %q: timeout must be >= 0, got %s", label, p.Timeout))
		}
		if p.RequestsPerMinute < 0 {
			errs = append(errs, fmt.Errorf("provider %q: requests_per_minute must be >= 0, got %d", label, p.RequestsPerMinute))
		}
	}

	return errors.Join(errs...)
}
