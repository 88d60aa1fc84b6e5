package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

// Fallback tries each provider in order and returns the first reply.
type Fallback struct {
	Providers []contractx.Provider
}

func (f *Fallback) Name() string {
	names := make([]string, 0, len(f.Providers))
	for _, p := range f.Providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ">")
}

func (f *Fallback) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for i, p := range f.Providers {
		if i > 0 {
			log.Warn().Str("provider", p.Name()).Int("attempt", i+1).Msg("previous provider failed, trying fallback")
		}
		out, err := p.Generate(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s: %w", p.Name(), ctxErr)
		}
		log.Warn().Str("provider", p.Name()).Err(err).Msg("provider failed")
	}
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return "", fmt.Errorf("all providers failed: %w", lastErr)
}
