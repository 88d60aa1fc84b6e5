package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

func Finalize(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	resp := in.Response
	if in.Replay != nil {
		resp = *in.Replay
	}
	if strings.TrimSpace(resp.ResponseText) == "" {
		return GraphOutput{}, fmt.Errorf("%w: empty response text", contractx.ErrValidation)
	}
	return GraphOutput{Response: resp, Rounds: in.Result.Rounds}, nil
}
