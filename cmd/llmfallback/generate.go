package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jdgilhuly/go_llm_fallback/pkg/dispatch"
	"github.com/jdgilhuly/go_llm_fallback/pkg/metrics"
	"github.com/jdgilhuly/go_llm_fallback/pkg/prompt"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate a completion",
		Long: `Send a prompt through the provider chain and print the first
successful completion.

The prompt is either given as arguments or rendered from a template with
--prompt-file and --var. The command exits non-zero when every provider is
unavailable or fails.`,
		Example: `  llmfallback generate "Find 5 tech companies in Japan"
  llmfallback generate --prompt-file prompts/company-research.yaml --var country=Japan --var count=5
  llmfallback generate --json --temperature 0.7 "Write a haiku about Go"`,
		RunE: runGenerate,
	}

	cmd.Flags().String("system", "", "System prompt (overrides the template's)")
	cmd.Flags().Int("max-tokens", 0, "Max tokens to generate (0 = config default)")
	cmd.Flags().Float64("temperature", 0, "Sampling temperature (default: config default)")
	cmd.Flags().StringP("prompt-file", "p", "", "Prompt template YAML file")
	cmd.Flags().StringArray("var", nil, "Template variable as key=value (repeatable)")
	cmd.Flags().Bool("json", false, "Print the full response as JSON")
	cmd.Flags().String("metrics-textfile", "", "Write Prometheus metrics to this file after the call")
	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	req, err := buildRequest(cmd, args)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheusRecorder(registry)
	if err != nil {
		return err
	}

	providers, err := cfg.BuildProviders(os.Getenv)
	if err != nil {
		return err
	}
	opts := append(cfg.DispatchOptions(), dispatch.WithLogger(log), dispatch.WithMetrics(recorder))
	d := dispatch.New(providers, opts...)

	resp := d.Generate(cmd.Context(), req)

	if path, _ := cmd.Flags().GetString("metrics-textfile"); path != "" {
		if err := metrics.WriteTextfile(path, registry); err != nil {
			log.Warn().Err(err).Msg("metrics not written")
		}
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
	} else if resp.Success {
		fmt.Fprintln(out, resp.Content)
	}

	if !resp.Success {
		return fmt.Errorf("generation failed: %w", resp.Err)
	}
	log.Debug().Str("provider", resp.Provider).Str("model", resp.Model).Msg("done")
	return nil
}

// buildRequest assembles the dispatch request from the positional prompt or
// the prompt template, then applies the flag overrides.
func buildRequest(cmd *cobra.Command, args []string) (dispatch.Request, error) {
	promptFile, _ := cmd.Flags().GetString("prompt-file")
	rawVars, _ := cmd.Flags().GetStringArray("var")

	var req dispatch.Request
	switch {
	case promptFile != "" && len(args) > 0:
		return req, errors.New("pass either a prompt or --prompt-file, not both")

	case promptFile != "":
		tmpl, err := prompt.Load(promptFile)
		if err != nil {
			return req, err
		}
		if err := tmpl.Validate(); err != nil {
			return req, fmt.Errorf("invalid prompt template: %w", err)
		}
		vars, err := parseVars(rawVars)
		if err != nil {
			return req, err
		}
		req, err = tmpl.Request(vars)
		if err != nil {
			return req, err
		}

	case len(args) > 0:
		if len(rawVars) > 0 {
			return req, errors.New("--var requires --prompt-file")
		}
		req.Prompt = strings.Join(args, " ")

	default:
		return req, errors.New("a prompt argument or --prompt-file is required")
	}

	if cmd.Flags().Changed("system") {
		req.System, _ = cmd.Flags().GetString("system")
	}
	if cmd.Flags().Changed("max-tokens") || cmd.Flags().Changed("temperature") {
		if req.Params == nil {
			req.Params = &dispatch.Params{}
		}
		if cmd.Flags().Changed("max-tokens") {
			req.Params.MaxTokens, _ = cmd.Flags().GetInt("max-tokens")
		}
		if cmd.Flags().Changed("temperature") {
			t, _ := cmd.Flags().GetFloat64("temperature")
			req.Params.Temperature = &t
		}
	}
	return req, nil
}

// parseVars turns key=value pairs into template variables. Values keep
// everything after the first '='.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: want key=value", pair)
		}
		vars[k] = v
	}
	return vars, nil
}
