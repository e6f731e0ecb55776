package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autoforge/autoforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Print the effective configuration after merging defaults, the user
config file, any project-level .autoforge.yaml, and environment
variables.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Printf("%s %s\n\n", color.CyanString("user config:"), config.GetUserConfigPath())

	out, err := yaml.Marshal(resolvedConfig(cfg))
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// resolvedConfig maps the config onto yaml-friendly keys matching the
// config file format, with the API key redacted.
func resolvedConfig(cfg *config.Config) map[string]any {
	apiKey := ""
	if cfg.Inference.Fallback.APIKey != "" {
		apiKey = "<redacted>"
	}
	return map[string]any{
		"scheduler": map[string]any{
			"max_concurrent": cfg.Scheduler.MaxConcurrent,
			"max_retries":    cfg.Scheduler.MaxRetries,
			"backoff_base":   cfg.Scheduler.BackoffBase.String(),
			"backoff_cap":    cfg.Scheduler.BackoffCap.String(),
			"max_park":       cfg.Scheduler.MaxPark.String(),
			"probe_interval": cfg.Scheduler.ProbeInterval.String(),
		},
		"inference": map[string]any{
			"endpoint":          cfg.Inference.Endpoint,
			"timeout":           cfg.Inference.Timeout.String(),
			"reconnect_retries": cfg.Inference.ReconnectRetries,
			"reconnect_delay":   cfg.Inference.ReconnectDelay.String(),
			"fallback": map[string]any{
				"enabled": cfg.Inference.Fallback.Enabled,
				"api_key": apiKey,
				"model":   cfg.Inference.Fallback.Model,
			},
		},
		"retrieval": map[string]any{
			"token_budget":      cfg.Retrieval.TokenBudget,
			"lexical_weight":    cfg.Retrieval.LexicalWeight,
			"dependency_share":  cfg.Retrieval.DependencyShare,
			"interface_share":   cfg.Retrieval.InterfaceShare,
			"example_share":     cfg.Retrieval.ExampleShare,
			"example_threshold": cfg.Retrieval.ExampleThreshold,
		},
		"generation": map[string]any{
			"temperature": cfg.Generation.Temperature,
			"max_tokens":  cfg.Generation.MaxTokens,
			"top_p":       cfg.Generation.TopP,
		},
		"logging": map[string]any{
			"level": cfg.Logging.Level,
			"file":  cfg.Logging.File,
		},
	}
}
