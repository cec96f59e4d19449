// Package llm adapts hosted language models to assistant.Backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"jarvis/internal/assistant"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var ErrMissingKey = errors.New("api key not provided")

type Config struct {
	APIKey string
	// BaseURL overrides the provider endpoint; empty keeps the SDK default.
	BaseURL      string
	SystemPrompt string
	HTTPClient   *http.Client
}

// New builds the backend for provider. On error the returned interface is
// nil so it can be handed straight to assistant.Options.
func New(ctx context.Context, provider string, cfg Config) (assistant.Backend, error) {
	switch provider {
	case ProviderGemini, "":
		b, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	case ProviderOpenAI:
		b, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
