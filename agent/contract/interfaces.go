package contract

import (
	"context"

	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

// Provider is a text-generation backend used by the reasoning loop.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

type Reasoner interface {
	Run(ctx context.Context, req ReasonRequest) (ReasonResult, error)
}

type ToolGateway interface {
	Specs() []ToolSpec
	Execute(ctx context.Context, patientID string, req ToolRequest) (ToolResult, error)
}

type MemoryStore interface {
	Recent(ctx context.Context, patientID string) ([]statex.ConversationTurn, error)
	Append(ctx context.Context, turn *statex.ConversationTurn) (bool, error)
	FindTurn(ctx context.Context, patientID, dedupKey string) (*statex.ConversationTurn, error)
}
