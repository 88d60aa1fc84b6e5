package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModelProvider adapts an eino chat model, such as the OpenRouter one, to
// the single-prompt provider contract.
type ChatModelProvider struct {
	name  string
	model model.BaseChatModel
}

func NewChatModelProvider(name string, m model.BaseChatModel) *ChatModelProvider {
	return &ChatModelProvider{name: name, model: m}
}

func (p *ChatModelProvider) Name() string { return p.name }

func (p *ChatModelProvider) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", p.name, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%s: empty message", p.name)
	}
	return msg.Content, nil
}
