package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jdgilhuly/go_llm_fallback/pkg/dispatch"
	"github.com/jdgilhuly/go_llm_fallback/pkg/provider"
)

// BuildProviders constructs the providers in configured order. Credentials
// are looked up through getenv; a missing key produces a provider that
// reports itself unavailable with the reason rather than an error.
func (c *Config) BuildProviders(getenv func(string) string) ([]provider.Provider, error) {
	out := make([]provider.Provider, 0, len(c.Providers))
	for _, pc := range c.Providers {
		key, keyErr := pc.ResolveAPIKey(getenv)

		p, err := buildProvider(pc, key)
		if err != nil {
			return nil, fmt.Errorf("building provider %q: %w", pc.Name, err)
		}
		built := provider.WithRateLimit(p, pc.RequestsPerMinute)
		if keyErr != nil {
			built = provider.Disable(built, keyErr)
		}
		out = append(out, built)
	}
	return out, nil
}

func buildProvider(pc ProviderConfig, key string) (provider.Provider, error) {
	switch pc.Type {
	case TypeOllama:
		var opts []provider.OllamaOption
		if pc.Model != "" {
			opts = append(opts, provider.WithOllamaModel(pc.Model))
		}
		return provider.NewOllamaProvider(pc.BaseURL, pc.Timeout, opts...)

	case TypeOpenAI:
		var opts []provider.OpenAIOption
		if pc.Timeout > 0 {
			opts = append(opts, provider.WithOpenAITimeout(pc.Timeout))
		}
		return provider.NewOpenAICompatible(pc.Name, key, pc.BaseURL, pc.Model, opts...), nil

	case TypeHuggingFace:
		var opts []provider.HuggingFaceOption
		if pc.BaseURL != "" {
			opts = append(opts, provider.WithHuggingFaceBaseURL(pc.BaseURL))
		}
		if pc.Model != "" {
			opts = append(opts, provider.WithHuggingFaceModel(pc.Model))
		}
		if pc.Timeout > 0 {
			opts = append(opts, provider.WithHuggingFaceTimeout(pc.Timeout))
		}
		return provider.NewHuggingFaceProvider(key, opts...), nil

	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// DispatchOptions returns the dispatcher options derived from the config.
func (c *Config) DispatchOptions() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithDefaults(dispatch.Params{
			MaxTokens:   c.Defaults.MaxTokens,
			Temperature: c.Defaults.Temperature,
		}),
		dispatch.WithAttemptTimeout(c.AttemptTimeout),
	}
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func parseLevel(s string) (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
