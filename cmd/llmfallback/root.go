package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jdgilhuly/go_llm_fallback/pkg/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "llmfallback",
		Short: "Completion dispatcher with provider fallback",
		Long: `Send a prompt to a prioritized list of LLM providers and return the
first successful completion.

The default chain is a local Ollama server, then Groq, Together AI and the
Hugging Face inference API. Providers without credentials are skipped.

Use 'llmfallback init' to write an example config, then
'llmfallback generate "your prompt"'.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "llmfallback.yaml", "Path to config file (defaults are used if it does not exist)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default: from config)")

	root.AddCommand(newGenerateCmd())
	root.AddCommand(newProvidersCmd())
	root.AddCommand(newPromptsCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newInitCmd())
	return root
}

// loadConfig reads and validates the config named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the console logger. The --log-level flag wins over the
// config file.
func newLogger(cmd *cobra.Command, cfg *config.Config) (zerolog.Logger, error) {
	level := cfg.Level()
	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid --log-level: %w", err)
		}
		level = lvl
	}
	return consoleLogger(cmd.ErrOrStderr(), level), nil
}

func consoleLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

// contextWithTimeout derives a context from the command's. A non-positive
// timeout only adds cancellation.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
