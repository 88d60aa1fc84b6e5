package orchestratornode

import (
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

func TestAssembleResponse(t *testing.T) {
	t.Parallel()

	ok := func(tool string) contractx.ToolTrace { return contractx.ToolTrace{Tool: tool, Result: "ok"} }
	fail := func(tool string) contractx.ToolTrace {
		return contractx.ToolTrace{Tool: tool, Error: "down", ErrorKind: "provider_unavailable"}
	}

	tests := []struct {
		name           string
		res            contractx.ReasonResult
		wantIncomplete bool
		wantPrefix     string
		wantContains   string
	}{
		{
			name:       "answered",
			res:        contractx.ReasonResult{Outcome: contractx.OutcomeAnswered, Answer: "Logged.", Traces: []contractx.ToolTrace{ok("medication.record_intake")}},
			wantPrefix: "Logged.",
		},
		{
			name:           "answered with unresolved failure",
			res:            contractx.ReasonResult{Outcome: contractx.OutcomeAnswered, Answer: "Logged your dose.", Traces: []contractx.ToolTrace{ok("medication.record_intake"), fail("medical_info.query")}},
			wantIncomplete: true,
			wantPrefix:     "Logged your dose.",
			wantContains:   "couldn't complete medical_info.query",
		},
		{
			name: "failure resolved by retry",
			res: contractx.ReasonResult{Outcome: contractx.OutcomeAnswered, Answer: "Done.", Traces: []contractx.ToolTrace{
				fail("symptom.record"), ok("symptom.record"),
			}},
			wantPrefix: "Done.",
		},
		{
			name:           "iteration cap",
			res:            contractx.ReasonResult{Outcome: contractx.OutcomeIterationCap, Answer: "Partial."},
			wantIncomplete: true,
			wantPrefix:     IncompleteNotice,
			wantContains:   "Partial.",
		},
		{
			name:           "timeout without answer",
			res:            contractx.ReasonResult{Outcome: contractx.OutcomeReasoningTimeout},
			wantIncomplete: true,
			wantPrefix:     IncompleteNotice,
			wantContains:   FallbackText,
		},
		{
			name:       "clarification before tools",
			res:        contractx.ReasonResult{Outcome: contractx.OutcomeNeedsClarification, Answer: "Which medication?"},
			wantPrefix: "Which medication?",
		},
		{
			name:           "clarification after tools",
			res:            contractx.ReasonResult{Outcome: contractx.OutcomeNeedsClarification, Answer: "Which one?", Traces: []contractx.ToolTrace{ok("medication.list")}},
			wantIncomplete: true,
			wantPrefix:     "Which one?",
		},
		{
			name:       "empty answer",
			res:        contractx.ReasonResult{Outcome: contractx.OutcomeAnswered, Answer: "  "},
			wantPrefix: FallbackText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := AssembleResponse(tt.res)
			if got.Incomplete != tt.wantIncomplete {
				t.Fatalf("Incomplete = %v, want %v", got.Incomplete, tt.wantIncomplete)
			}
			if got.Outcome != tt.res.Outcome {
				t.Fatalf("Outcome = %q, want %q", got.Outcome, tt.res.Outcome)
			}
			if !strings.HasPrefix(got.ResponseText, tt.wantPrefix) {
				t.Fatalf("ResponseText = %q, want prefix %q", got.ResponseText, tt.wantPrefix)
			}
			if tt.wantContains != "" && !strings.Contains(got.ResponseText, tt.wantContains) {
				t.Fatalf("ResponseText = %q, want it to contain %q", got.ResponseText, tt.wantContains)
			}
			if got.Trace == nil {
				t.Fatal("Trace should never be nil")
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	now := func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.FixedZone("ICT", 7*3600)) }

	st, err := ValidateRequest(GraphInput{PatientID: " p1 ", Message: " hi ", DedupKey: " k "}, now)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if st.PatientID != "p1" || st.Message != "hi" || st.DedupKey != "k" || st.Now.Location() != time.UTC {
		t.Fatalf("unexpected state: %+v", st)
	}

	if _, err := ValidateRequest(GraphInput{Message: "hi"}, now); !errors.Is(err, ErrInvalidPatient) {
		t.Fatalf("error = %v, want ErrInvalidPatient", err)
	}
	if _, err := ValidateRequest(GraphInput{PatientID: "p1", Message: "  "}, now); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
	long := strings.Repeat("x", MaxMessageLength+1)
	if _, err := ValidateRequest(GraphInput{PatientID: "p1", Message: long}, now); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestReplayResponseRoundTrip(t *testing.T) {
	t.Parallel()

	in := &GraphState{
		PatientID: "p1",
		DedupKey:  "k1",
		Now:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Result:    contractx.ReasonResult{Rounds: 2},
		Response: contractx.TurnResponse{
			ResponseText: "Recorded.",
			Outcome:      contractx.OutcomeAnswered,
			Incomplete:   true,
			Trace:        []contractx.ToolTrace{{Round: 1, Tool: "medication.record_intake"}},
		},
	}
	mem := &recordingMemory{}
	if _, err := AppendAgentTurn(t.Context(), in, mem); err != nil {
		t.Fatalf("AppendAgentTurn() error = %v", err)
	}
	if len(mem.turns) != 1 || mem.turns[0].DedupKey != statex.AgentDedupKey("k1") || mem.turns[0].Role != statex.RoleAgent {
		t.Fatalf("unexpected stored turns: %+v", mem.turns)
	}

	got, err := ReplayResponse(&mem.turns[0])
	if err != nil {
		t.Fatalf("ReplayResponse() error = %v", err)
	}
	if !got.Replayed || !got.Incomplete || got.ResponseText != "Recorded." || len(got.Trace) != 1 || got.Trace[0].Tool != "medication.record_intake" {
		t.Fatalf("unexpected replay: %+v", got)
	}
}
