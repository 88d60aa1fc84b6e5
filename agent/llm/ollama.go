package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

type OllamaProvider struct {
	client      *api.Client
	model       string
	temperature float32
}

func NewOllama(cfg OllamaConfig, temperature float32) (*OllamaProvider, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base url: %w", err)
	}
	return &OllamaProvider{
		client:      api.NewClient(u, &http.Client{Timeout: cfg.Timeout}),
		model:       strings.TrimSpace(cfg.Model),
		temperature: temperature,
	}, nil
}

func (p *OllamaProvider) Name() string { return ProviderOllama }

func (p *OllamaProvider) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: &stream,
		Options: map[string]any{
			"temperature": p.temperature,
		},
	}

	var b strings.Builder
	err := p.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama: generate: %w", err)
	}
	return b.String(), nil
}
