package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdgilhuly/go_llm_fallback/pkg/config"
	"github.com/jdgilhuly/go_llm_fallback/pkg/dispatch"
	"github.com/jdgilhuly/go_llm_fallback/pkg/prompt"
)

// --- providers command ---

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List providers in fallback order with their availability",
		Long: `Check every configured provider in fallback order and report whether it
can serve requests. With --available only the names of usable providers are
printed, one per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			providers, err := cfg.BuildProviders(os.Getenv)
			if err != nil {
				return err
			}
			d := dispatch.New(providers)

			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			if only, _ := cmd.Flags().GetBool("available"); only {
				for _, name := range d.AvailableProviders(ctx) {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			if len(providers) == 0 {
				fmt.Fprintln(out, "No providers configured.")
				return nil
			}
			for i, st := range d.Status(ctx) {
				status := "available"
				if st.Err != nil {
					status = "unavailable: " + st.Err.Error()
				}
				fmt.Fprintf(out, "  %d. %-12s %-36s %s\n", i+1, st.Name, st.Model, status)
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 10*time.Second, "Availability check timeout for the whole listing")
	cmd.Flags().Bool("available", false, "Print only the names of available providers")
	return cmd
}

// --- prompts command ---

func newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "List prompt templates in a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			templates, err := prompt.LoadDir(dir)
			if err != nil {
				return fmt.Errorf("loading prompts from %s: %w", dir, err)
			}

			out := cmd.OutOrStdout()
			if len(templates) == 0 {
				fmt.Fprintln(out, "No prompt templates found.")
				return nil
			}
			for _, t := range templates {
				desc := t.Description
				if desc == "" {
					desc = "(no description)"
				}
				fmt.Fprintf(out, "  %-20s %s\n", t.Name, desc)
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "prompts", "Directory holding prompt templates")
	return cmd
}

// --- validate command ---

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config and prompt files",
		Long: `Check the configuration file, and optionally a prompt template, for
errors. All config problems are reported at once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			promptPath, _ := cmd.Flags().GetString("prompt-file")
			if promptPath != "" {
				t, err := prompt.Load(promptPath)
				if err != nil {
					return fmt.Errorf("loading prompt: %w", err)
				}
				if err := t.Validate(); err != nil {
					return fmt.Errorf("prompt validation failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Prompt %q is valid.\n", t.Name)
			}

			cfgPath, _ := cmd.Flags().GetString("config")
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config %q is valid.\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringP("prompt-file", "p", "", "Path to prompt template to validate")
	return cmd
}

// --- init command ---

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write an example config and prompt template",
		Long: `Scaffold the files needed to get started:
  llmfallback.yaml                   - Provider chain and defaults
  prompts/company-research.yaml      - Example prompt template

Existing files are left untouched.`,
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if err := os.MkdirAll("prompts", 0o755); err != nil {
		return fmt.Errorf("creating directory prompts: %w", err)
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	if err := writeYAML(cmd, cfgPath, config.Default()); err != nil {
		return err
	}
	if err := writeYAML(cmd, filepath.Join("prompts", "company-research.yaml"), examplePrompt()); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nSet GROQ_API_KEY, TOGETHER_API_KEY or HUGGINGFACE_API_KEY to enable hosted providers.")
	fmt.Fprintln(out, "Run 'llmfallback providers' to check which are available.")
	return nil
}

func examplePrompt() *prompt.Template {
	temp := 0.1
	return &prompt.Template{
		Name:        "company-research",
		Description: "List companies in a sector and country",
		System:      "You are a concise market research assistant. Answer with a numbered list.",
		User:        "Find {{.count}} {{.sector}} companies in {{.country}}.",
		MaxTokens:   500,
		Temperature: &temp,
		Metadata:    map[string]string{"version": "1"},
	}
}

func writeYAML(cmd *cobra.Command, path string, data any) error {
	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "  skipped %s (already exists)\n", path)
		return nil
	}

	b, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(out, "  created %s\n", path)
	return nil
}
