package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

// CheckReplay looks up the agent turn that already answered this dedup key.
// A hit short-circuits the turn.
func CheckReplay(
	ctx context.Context,
	in *GraphState,
	memory contractx.MemoryStore,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.DedupKey == "" {
		return in, nil
	}

	turn, err := memory.FindTurn(ctx, in.PatientID, statex.AgentDedupKey(in.DedupKey))
	if err != nil && !errors.Is(err, statex.ErrTurnNotFound) {
		return nil, err
	}
	if turn == nil {
		return in, nil
	}

	resp, err := ReplayResponse(turn)
	if err != nil {
		return nil, err
	}
	in.Replay = &resp
	return in, nil
}

func ReadMemory(
	ctx context.Context,
	in *GraphState,
	memory contractx.MemoryStore,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	turns, err := memory.Recent(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	// A retried turn whose earlier attempt failed already stored the user
	// message; keep it out of the history so it is not shown twice.
	retried := statex.UserDedupKey(in.DedupKey)
	history := make([]statex.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if retried != "" && t.DedupKey == retried {
			continue
		}
		history = append(history, t)
	}
	in.History = history
	return in, nil
}
