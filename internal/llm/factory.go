package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alainkit/internal/config"
)

// NewClient builds a completion client from configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case "openai-compatible", "":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.Timeout != "" {
			d, err := time.ParseDuration(cfg.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid llm timeout %q: %w", cfg.Timeout, err)
			}
			oc.Timeout = d
		}
		return NewOpenAIClientWithConfig(oc), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// IsLocalEndpoint reports whether base points at a local server. Local
// endpoints tolerate more concurrency and skip hosted-only behavior.
func IsLocalEndpoint(base string) bool {
	return strings.Contains(base, "localhost") || strings.Contains(base, "127.0.0.1")
}
