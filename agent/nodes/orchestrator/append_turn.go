package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// turnRecord is the trace payload stored with an agent turn.
type turnRecord struct {
	Outcome    contractx.Outcome     `json:"outcome"`
	Incomplete bool                  `json:"incomplete"`
	Rounds     int                   `json:"rounds"`
	Trace      []contractx.ToolTrace `json:"trace"`
}

func AppendUserTurn(
	ctx context.Context,
	in *GraphState,
	memory contractx.MemoryStore,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	turn := &statex.ConversationTurn{
		ID:        uuid.NewString(),
		PatientID: in.PatientID,
		Role:      statex.RoleUser,
		Text:      in.Message,
		DedupKey:  statex.UserDedupKey(in.DedupKey),
		CreatedAt: in.Now,
	}
	inserted, err := memory.Append(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}
	if !inserted {
		// Only a retry of a failed attempt with the same message may reuse
		// the stored user turn.
		stored, err := memory.FindTurn(ctx, in.PatientID, turn.DedupKey)
		if err != nil {
			return nil, fmt.Errorf("load stored user turn: %w", err)
		}
		if stored.Text != in.Message {
			return nil, fmt.Errorf("%w: dedup key %q was already used for a different message", contractx.ErrValidation, in.DedupKey)
		}
		log.Debug().Str("patient_id", in.PatientID).Str("dedup_key", in.DedupKey).Msg("user turn already stored")
		turn = stored
	}
	in.UserTurn = turn
	return in, nil
}

func AppendAgentTurn(
	ctx context.Context,
	in *GraphState,
	memory contractx.MemoryStore,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	payload, err := json.Marshal(turnRecord{
		Outcome:    in.Response.Outcome,
		Incomplete: in.Response.Incomplete,
		Rounds:     in.Result.Rounds,
		Trace:      in.Response.Trace,
	})
	if err != nil {
		return nil, fmt.Errorf("encode turn trace: %w", err)
	}

	createdAt := in.Now
	if in.UserTurn != nil && !createdAt.After(in.UserTurn.CreatedAt) {
		createdAt = in.UserTurn.CreatedAt.Add(time.Millisecond)
	}
	turn := &statex.ConversationTurn{
		ID:        uuid.NewString(),
		PatientID: in.PatientID,
		Role:      statex.RoleAgent,
		Text:      in.Response.ResponseText,
		DedupKey:  statex.AgentDedupKey(in.DedupKey),
		Trace:     payload,
		CreatedAt: createdAt,
	}
	if _, err := memory.Append(ctx, turn); err != nil {
		return nil, fmt.Errorf("append agent turn: %w", err)
	}
	return in, nil
}

// ReplayResponse rebuilds the response of a stored agent turn.
func ReplayResponse(turn *statex.ConversationTurn) (contractx.TurnResponse, error) {
	if turn == nil {
		return contractx.TurnResponse{}, fmt.Errorf("%w: turn is nil", contractx.ErrValidation)
	}

	var rec turnRecord
	if len(turn.Trace) > 0 {
		if err := json.Unmarshal(turn.Trace, &rec); err != nil {
			return contractx.TurnResponse{}, fmt.Errorf("decode turn %s trace: %w", turn.ID, err)
		}
	}
	if rec.Outcome == "" {
		rec.Outcome = contractx.OutcomeAnswered
	}
	trace := rec.Trace
	if trace == nil {
		trace = []contractx.ToolTrace{}
	}
	return contractx.TurnResponse{
		ResponseText: turn.Text,
		Trace:        trace,
		Incomplete:   rec.Incomplete,
		Outcome:      rec.Outcome,
		Replayed:     true,
	}, nil
}
