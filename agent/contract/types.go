package contract

import (
	"time"

	"github.com/cloudwego/eino/schema"

	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

type CapabilityKind string

const (
	CapabilityMedication     CapabilityKind = "medication"
	CapabilitySymptom        CapabilityKind = "symptom"
	CapabilityMedicalInfo    CapabilityKind = "medical_info"
	CapabilityHealthAnalysis CapabilityKind = "health_analysis"
)

func (k CapabilityKind) Valid() bool {
	switch k {
	case CapabilityMedication, CapabilitySymptom, CapabilityMedicalInfo, CapabilityHealthAnalysis:
		return true
	default:
		return false
	}
}

// ToolSpec is the static description of one tool presented to the reasoning
// provider and used to validate calls before dispatch.
type ToolSpec struct {
	Name       string                           `json:"name"`
	Capability CapabilityKind                   `json:"capability"`
	Desc       string                           `json:"description"`
	Params     map[string]*schema.ParameterInfo `json:"params,omitempty"`
}

// Info renders the spec as an eino tool description.
func (s ToolSpec) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        s.Name,
		Desc:        s.Desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(s.Params),
	}
}

type ToolRequest struct {
	Tool string         `json:"tool_name"`
	Args map[string]any `json:"arguments,omitempty"`
}

type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Summarizer is implemented by tool results that can describe themselves in
// one sentence.
type Summarizer interface {
	Summary() string
}

// ToolTrace records one tool invocation made while answering a turn.
type ToolTrace struct {
	Round     int            `json:"round"`
	Thought   string         `json:"thought,omitempty"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
}

func (t ToolTrace) Failed() bool {
	return t.Error != ""
}

type DecisionKind string

const (
	DecisionToolCall    DecisionKind = "tool_call"
	DecisionFinalAnswer DecisionKind = "final_answer"
	DecisionClarify     DecisionKind = "clarify"
)

// Decision is one parsed reply of the reasoning provider.
type Decision struct {
	Kind     DecisionKind
	Thought  string
	Action   *ToolRequest
	Answer   string
	Question string
}

type Outcome string

const (
	OutcomeAnswered           Outcome = "answered"
	OutcomeNeedsClarification Outcome = "needs_clarification"
	OutcomeIterationCap       Outcome = "iteration_cap"
	OutcomeReasoningTimeout   Outcome = "reasoning_timeout"
	OutcomeProviderFailure    Outcome = "provider_failure"
)

// Truncated reports whether the loop stopped before the provider produced a
// final answer.
func (o Outcome) Truncated() bool {
	switch o {
	case OutcomeIterationCap, OutcomeReasoningTimeout, OutcomeProviderFailure:
		return true
	default:
		return false
	}
}

type ReasonRequest struct {
	PatientID string                    `json:"patient_id"`
	Message   string                    `json:"message"`
	History   []statex.ConversationTurn `json:"history"`
	Now       time.Time                 `json:"now"`
}

type ReasonResult struct {
	Answer  string      `json:"answer"`
	Outcome Outcome     `json:"outcome"`
	Traces  []ToolTrace `json:"traces,omitempty"`
	Rounds  int         `json:"rounds"`
}

type TurnResponse struct {
	ResponseText string      `json:"response_text"`
	Trace        []ToolTrace `json:"trace"`
	Incomplete   bool        `json:"incomplete"`
	Outcome      Outcome     `json:"outcome"`
	Replayed     bool        `json:"replayed,omitempty"`
}
