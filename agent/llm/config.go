package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	openrouterx "github.com/tanpawarit/healthguard-agent/pkg/openrouter"
)

const (
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

type OpenAIConfig struct {
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"gpt-4o"`
	MaxCompletionToken int64         `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
}

type GeminiConfig struct {
	APIKey  string `envconfig:"API_KEY" split_words:"true"`
	BaseURL string `envconfig:"BASE_URL" split_words:"true"`
	Model   string `envconfig:"MODEL" split_words:"true" default:"gemini-2.0-flash"`
}

type OllamaConfig struct {
	BaseURL string        `envconfig:"BASE_URL" split_words:"true" default:"http://localhost:11434"`
	Model   string        `envconfig:"MODEL" split_words:"true" default:"llama3.1"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
}

// Config selects the reasoning provider. Fallback lists providers tried in
// order when the primary one fails.
type Config struct {
	Provider    string   `envconfig:"PROVIDER" split_words:"true" default:"openai"`
	Fallback    []string `envconfig:"FALLBACK" split_words:"true"`
	Temperature float32  `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`

	OpenAI     OpenAIConfig                 `envconfig:"OPENAI"`
	Gemini     GeminiConfig                 `envconfig:"GEMINI"`
	OpenRouter openrouterx.OpenRouterConfig `envconfig:"OPENROUTER"`
	Ollama     OllamaConfig                 `envconfig:"OLLAMA"`
}

// Chain returns the primary provider followed by the fallbacks, without
// duplicates.
func (c Config) Chain() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range append([]string{c.Provider}, c.Fallback...) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func (c Config) Validate() error {
	chain := c.Chain()
	if len(chain) == 0 {
		return fmt.Errorf("%w: llm provider is required", contractx.ErrValidation)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: llm temperature must be within [0, 2]", contractx.ErrValidation)
	}
	for _, name := range chain {
		if err := c.validateProvider(name); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validateProvider(name string) error {
	switch name {
	case ProviderOpenAI:
		if strings.TrimSpace(c.OpenAI.APIKey) == "" {
			return fmt.Errorf("%w: openai api key is required", contractx.ErrValidation)
		}
		if strings.TrimSpace(c.OpenAI.Model) == "" {
			return fmt.Errorf("%w: openai model is required", contractx.ErrValidation)
		}
	case ProviderGemini:
		if strings.TrimSpace(c.Gemini.APIKey) == "" {
			return fmt.Errorf("%w: gemini api key is required", contractx.ErrValidation)
		}
		if strings.TrimSpace(c.Gemini.Model) == "" {
			return fmt.Errorf("%w: gemini model is required", contractx.ErrValidation)
		}
	case ProviderOpenRouter:
		if err := c.OpenRouter.Validate(); err != nil {
			return fmt.Errorf("%w: %v", contractx.ErrValidation, err)
		}
	case ProviderOllama:
		if strings.TrimSpace(c.Ollama.Model) == "" {
			return fmt.Errorf("%w: ollama model is required", contractx.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, name)
	}
	return nil
}
