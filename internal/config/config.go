package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all alainkit configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Prompt template resolution
	Prompts PromptsConfig `yaml:"prompts"`

	// Generation pipeline settings
	Generation GenerationConfig `yaml:"generation"`

	// Checkpoint persistence
	Checkpoints CheckpointConfig `yaml:"checkpoints"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai-compatible, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// PromptsConfig configures template resolution.
type PromptsConfig struct {
	// OverrideRoot is searched before the built-in roots. Also settable via
	// ALAIN_PROMPT_ROOT.
	OverrideRoot string `yaml:"override_root"`

	// Watch enables cache invalidation when files under OverrideRoot change.
	Watch bool `yaml:"watch"`
}

// GenerationConfig configures the section generation pipeline.
type GenerationConfig struct {
	// MaxConcurrency bounds the worker pool. Zero picks a default based on
	// whether the endpoint is local.
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxAttempts caps retries per section before the run fails.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase and BackoffCeiling are duration strings ("500ms", "5s").
	BackoffBase    string `yaml:"backoff_base"`
	BackoffCeiling string `yaml:"backoff_ceiling"`

	// MaxSections trims the outline after validation. Zero keeps all steps.
	MaxSections int `yaml:"max_sections"`

	// HumanReviewDir receives artifacts for responses that needed manual
	// attention. Empty disables artifact writes.
	HumanReviewDir string `yaml:"human_review_dir"`
}

// CheckpointConfig configures section checkpoint persistence.
type CheckpointConfig struct {
	Backend string `yaml:"backend"` // file, sqlite
	Dir     string `yaml:"dir"`
	DBPath  string `yaml:"db_path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "alainkit",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider: "openai-compatible",
			Model:    "gpt-oss-20b",
			BaseURL:  "https://api.poe.com/v1",
			Timeout:  "120s",
		},

		Prompts: PromptsConfig{},

		Generation: GenerationConfig{
			MaxAttempts:    4,
			BackoffBase:    "500ms",
			BackoffCeiling: "5s",
			HumanReviewDir: "human-review",
		},

		Checkpoints: CheckpointConfig{
			Backend: "file",
			Dir:     "checkpoints",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets the environment win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ALAIN_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("ALAIN_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("ALAIN_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ALAIN_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("ALAIN_PROMPT_ROOT"); v != "" {
		c.Prompts.OverrideRoot = v
	}
	if v := os.Getenv("ALAIN_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Generation.MaxConcurrency = n
		}
	}
	if v := os.Getenv("ALAIN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
