package llm

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

// New builds the configured provider, wrapping it in a Fallback when more than
// one provider is listed.
func New(ctx context.Context, cfg Config) (contractx.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var providers []contractx.Provider
	for _, name := range cfg.Chain() {
		p, err := build(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return &Fallback{Providers: providers}, nil
}

func build(ctx context.Context, name string, cfg Config) (contractx.Provider, error) {
	switch name {
	case ProviderOpenAI:
		return NewOpenAI(cfg.OpenAI, cfg.Temperature), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg.Gemini, cfg.Temperature)
	case ProviderOpenRouter:
		or := cfg.OpenRouter
		m, err := or.New(ctx)
		if err != nil {
			return nil, err
		}
		return NewChatModelProvider(ProviderOpenRouter, m), nil
	case ProviderOllama:
		return NewOllama(cfg.Ollama, cfg.Temperature)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, name)
	}
}
