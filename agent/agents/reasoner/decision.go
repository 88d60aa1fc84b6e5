package reasoner

import (
	"bytes"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type rawDecision struct {
	Thought   string              `json:"thought"`
	Type      string              `json:"type"`
	ToolName  *string             `json:"tool_name"`
	Arguments jsoniter.RawMessage `json:"arguments"`
	Answer    *string             `json:"answer"`
	Question  *string             `json:"question"`
}

// ParseDecision reads the single JSON object of a provider reply. Code fences
// and prose around the object are ignored. A reply without "type" is accepted
// only when exactly one of tool_name, answer or question is present.
func ParseDecision(text string) (contractx.Decision, error) {
	body, err := extractObject(text)
	if err != nil {
		return contractx.Decision{}, err
	}

	var raw rawDecision
	if err := json.Unmarshal(body, &raw); err != nil {
		return contractx.Decision{}, fmt.Errorf("%w: decode decision: %v", contractx.ErrSchemaViolation, err)
	}

	kind := contractx.DecisionKind(strings.ToLower(strings.TrimSpace(raw.Type)))
	if kind == "" {
		kind, err = inferKind(raw)
		if err != nil {
			return contractx.Decision{}, err
		}
	}

	d := contractx.Decision{Kind: kind, Thought: strings.TrimSpace(raw.Thought)}
	switch kind {
	case contractx.DecisionToolCall:
		name := strings.TrimSpace(deref(raw.ToolName))
		if name == "" {
			return contractx.Decision{}, fmt.Errorf("%w: tool_call without tool_name", contractx.ErrSchemaViolation)
		}
		args, err := decodeArguments(raw.Arguments)
		if err != nil {
			return contractx.Decision{}, err
		}
		d.Action = &contractx.ToolRequest{Tool: name, Args: args}
	case contractx.DecisionFinalAnswer:
		d.Answer = strings.TrimSpace(deref(raw.Answer))
		if d.Answer == "" {
			return contractx.Decision{}, fmt.Errorf("%w: final_answer without answer", contractx.ErrSchemaViolation)
		}
	case contractx.DecisionClarify:
		d.Question = strings.TrimSpace(deref(raw.Question))
		if d.Question == "" {
			return contractx.Decision{}, fmt.Errorf("%w: clarify without question", contractx.ErrSchemaViolation)
		}
	default:
		return contractx.Decision{}, fmt.Errorf("%w: unknown decision type %q", contractx.ErrSchemaViolation, raw.Type)
	}
	return d, nil
}

func extractObject(text string) ([]byte, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: reply contains no JSON object", contractx.ErrSchemaViolation)
	}
	return []byte(text[start : end+1]), nil
}

func inferKind(raw rawDecision) (contractx.DecisionKind, error) {
	var kinds []contractx.DecisionKind
	if raw.ToolName != nil {
		kinds = append(kinds, contractx.DecisionToolCall)
	}
	if raw.Answer != nil {
		kinds = append(kinds, contractx.DecisionFinalAnswer)
	}
	if raw.Question != nil {
		kinds = append(kinds, contractx.DecisionClarify)
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("%w: decision type is missing and ambiguous", contractx.ErrSchemaViolation)
	}
	return kinds[0], nil
}

// decodeArguments accepts an object or an object encoded as a JSON string.
func decodeArguments(raw jsoniter.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: decode arguments: %v", contractx.ErrSchemaViolation, err)
		}
		trimmed = []byte(strings.TrimSpace(s))
		if len(trimmed) == 0 {
			return map[string]any{}, nil
		}
	}
	args := map[string]any{}
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("%w: arguments must be an object: %v", contractx.ErrSchemaViolation, err)
	}
	return args, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
