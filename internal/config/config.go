// Package config handles configuration loading for autoforge.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration engine.
type Config struct {
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Generation GenerationConfig `mapstructure:"generation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SchedulerConfig holds scheduling and failure policy settings.
type SchedulerConfig struct {
	// MaxConcurrent bounds how many tasks may be running project-wide.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// MaxRetries is the attempt limit before a task fails terminally.
	MaxRetries int `mapstructure:"max_retries"`
	// BackoffBase is the base delay for exponential backoff between attempts.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// BackoffCap caps the computed backoff delay.
	BackoffCap time.Duration `mapstructure:"backoff_cap"`
	// MaxPark is how long a task may stay parked while the inference
	// service reports unavailable before it is failed.
	MaxPark time.Duration `mapstructure:"max_park"`
	// ProbeInterval is how often a parked scheduler probes availability.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// InferenceConfig holds settings for the remote inference channel.
type InferenceConfig struct {
	// Endpoint is the host:port of the edge inference service.
	Endpoint string `mapstructure:"endpoint"`
	// Timeout is the per-request response deadline.
	Timeout time.Duration `mapstructure:"timeout"`
	// ReconnectRetries bounds reconnection attempts when the channel drops.
	ReconnectRetries int `mapstructure:"reconnect_retries"`
	// ReconnectDelay is the pause between reconnection attempts.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	// Fallback configures the optional cloud fallback provider.
	Fallback FallbackConfig `mapstructure:"fallback"`
}

// FallbackConfig holds settings for the Anthropic cloud fallback provider,
// used when the edge endpoint stays unavailable past the park window.
type FallbackConfig struct {
	// Enabled toggles the fallback provider.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the Anthropic API key. If empty, ANTHROPIC_API_KEY is used.
	APIKey string `mapstructure:"api_key"`
	// Model is the model name to request.
	Model string `mapstructure:"model"`
}

// RetrievalConfig holds context-selection settings.
type RetrievalConfig struct {
	// TokenBudget is the maximum tokens a context payload may occupy.
	TokenBudget int `mapstructure:"token_budget"`
	// LexicalWeight blends lexical vs semantic relevance (0.0-1.0, the
	// semantic weight is the complement).
	LexicalWeight float64 `mapstructure:"lexical_weight"`
	// DependencyShare is the fraction of remaining budget given to
	// dependency chunks.
	DependencyShare float64 `mapstructure:"dependency_share"`
	// InterfaceShare is the fraction of the budget given to interface
	// summary chunks.
	InterfaceShare float64 `mapstructure:"interface_share"`
	// ExampleShare is the fraction of the budget usage examples may fill.
	ExampleShare float64 `mapstructure:"example_share"`
	// ExampleThreshold is the consumed fraction below which usage examples
	// are considered at all.
	ExampleThreshold float64 `mapstructure:"example_threshold"`
}

// GenerationConfig holds default sampling parameters.
type GenerationConfig struct {
	// Temperature is the default sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens is the default output token bound.
	MaxTokens int `mapstructure:"max_tokens"`
	// TopP is the default nucleus sampling parameter.
	TopP float64 `mapstructure:"top_p"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is the minimum level emitted (debug, info, warn, error).
	Level string `mapstructure:"level"`
	// File is the rotated log file path. Empty disables file logging.
	File string `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
//  1. Environment variables (AUTOFORGE_*, ANTHROPIC_API_KEY)
//  2. Project config (.autoforge.yaml in current directory or parent)
//  3. User config (~/.config/autoforge/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("AUTOFORGE")
	v.AutomaticEnv()
	v.BindEnv("inference.fallback.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults without touching the filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Validate checks ranges on the tunable knobs.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be >= 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Scheduler.MaxRetries < 1 {
		return fmt.Errorf("scheduler.max_retries must be >= 1, got %d", c.Scheduler.MaxRetries)
	}
	if c.Retrieval.TokenBudget < 1 {
		return fmt.Errorf("retrieval.token_budget must be >= 1, got %d", c.Retrieval.TokenBudget)
	}
	if c.Retrieval.LexicalWeight < 0 || c.Retrieval.LexicalWeight > 1 {
		return fmt.Errorf("retrieval.lexical_weight must be in [0,1], got %v", c.Retrieval.LexicalWeight)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values. Backoff constants, the park window,
// and the relevance blend weight were never empirically tuned; they are
// deliberately configuration, not constants.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.max_concurrent", 2)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.backoff_base", "2s")
	v.SetDefault("scheduler.backoff_cap", "60s")
	v.SetDefault("scheduler.max_park", "5m")
	v.SetDefault("scheduler.probe_interval", "2s")

	v.SetDefault("inference.endpoint", "127.0.0.1:8080")
	v.SetDefault("inference.timeout", "120s")
	v.SetDefault("inference.reconnect_retries", 3)
	v.SetDefault("inference.reconnect_delay", "1s")
	v.SetDefault("inference.fallback.enabled", false)
	v.SetDefault("inference.fallback.api_key", "")
	v.SetDefault("inference.fallback.model", "claude-3-5-haiku-20241022")

	v.SetDefault("retrieval.token_budget", 2048)
	v.SetDefault("retrieval.lexical_weight", 0.6)
	v.SetDefault("retrieval.dependency_share", 0.3)
	v.SetDefault("retrieval.interface_share", 0.2)
	v.SetDefault("retrieval.example_share", 0.2)
	v.SetDefault("retrieval.example_threshold", 0.8)

	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.max_tokens", 1024)
	v.SetDefault("generation.top_p", 0.95)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// getUserConfigDir returns the XDG config directory for autoforge.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "autoforge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "autoforge")
	}
	return filepath.Join(home, ".config", "autoforge")
}

// findProjectConfig searches for .autoforge.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".autoforge.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
