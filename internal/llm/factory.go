package llm

import (
	"context"
	"fmt"

	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/logging"
)

// NewFromConfig builds the client used by the agents. OpenRouter serves every
// model; when a Gemini key is present, "gemini" and "google/gemini" models go
// straight to the Gemini API.
func NewFromConfig(ctx context.Context, api config.APIConfig) (Client, error) {
	var fallback Client
	if api.OpenRouterKey != "" {
		cfg := DefaultOpenRouterConfig(api.OpenRouterKey)
		if api.OpenRouterEndpoint != "" {
			cfg.BaseURL = api.OpenRouterEndpoint
		}
		fallback = NewOpenRouterClient(cfg)
		logging.Boot("LLM: OpenRouter client at %s", cfg.BaseURL)
	}
	router := NewRouter(fallback)

	if api.GeminiKey != "" {
		gemini, err := NewGeminiClient(ctx, GeminiConfig{APIKey: api.GeminiKey})
		if err != nil {
			return nil, err
		}
		router.Route("gemini", gemini).Route("google/gemini", gemini)
		logging.Boot("LLM: Gemini client enabled")
	}

	if fallback == nil && api.GeminiKey == "" {
		return nil, fmt.Errorf("no LLM provider configured; set openrouter_key or gemini_key in api.yml")
	}
	return router, nil
}
