package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

const (
	IncompleteNotice = "Note: this response may be incomplete because I couldn't finish working on your request."
	FallbackText     = "I'm sorry, I don't have a response for that right now. Please try again."
)

func AssembleResponseNode(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Response = AssembleResponse(in.Result)
	return in, nil
}

// AssembleResponse turns the outcome of the reasoning loop into the response
// returned to the patient.
func AssembleResponse(res contractx.ReasonResult) contractx.TurnResponse {
	trace := res.Traces
	if trace == nil {
		trace = []contractx.ToolTrace{}
	}
	text := strings.TrimSpace(res.Answer)
	out := contractx.TurnResponse{Trace: trace, Outcome: res.Outcome}

	switch {
	case res.Outcome.Truncated():
		out.Incomplete = true
		if text == "" {
			text = FallbackText
		}
		text = IncompleteNotice + "\n\n" + text
	case res.Outcome == contractx.OutcomeNeedsClarification:
		out.Incomplete = len(res.Traces) > 0
	default:
		if failed := unresolvedTools(res.Traces); len(failed) > 0 {
			out.Incomplete = true
			if text == "" {
				text = FallbackText
			}
			text += fmt.Sprintf("\n\n(Note: I couldn't complete %s, so this response may be incomplete.)", strings.Join(failed, ", "))
		}
	}

	if text == "" {
		text = FallbackText
	}
	out.ResponseText = text
	return out
}

// unresolvedTools lists, in order of first failure, the tools whose last call
// in the turn failed.
func unresolvedTools(traces []contractx.ToolTrace) []string {
	failing := map[string]bool{}
	var order []string
	for _, t := range traces {
		if t.Failed() {
			if _, seen := failing[t.Tool]; !seen {
				order = append(order, t.Tool)
			}
			failing[t.Tool] = true
			continue
		}
		if _, seen := failing[t.Tool]; seen {
			failing[t.Tool] = false
		}
	}

	var out []string
	for _, tool := range order {
		if failing[tool] {
			out = append(out, tool)
		}
	}
	return out
}
