package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	promptx "github.com/tanpawarit/healthguard-agent/agent/prompt"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type reply struct {
	text  string
	err   error
	block bool
}

type scriptedProvider struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	idx := len(p.prompts) - 1
	var r reply
	if idx < len(p.replies) {
		r = p.replies[idx]
	} else {
		r = p.replies[len(p.replies)-1]
	}
	p.mu.Unlock()

	if r.block {
		select {}
	}
	return r.text, r.err
}

type summary string

func (s summary) Summary() string { return string(s) }

type fakeGateway struct {
	calls []contractx.ToolRequest
	exec  func(req contractx.ToolRequest) (contractx.ToolResult, error)
}

func (g *fakeGateway) Specs() []contractx.ToolSpec {
	return []contractx.ToolSpec{
		{
			Name:       "medication.list",
			Capability: contractx.CapabilityMedication,
			Desc:       "List medications.",
			Params:     map[string]*schema.ParameterInfo{},
		},
		{
			Name:       "symptom.record",
			Capability: contractx.CapabilitySymptom,
			Desc:       "Record a symptom.",
			Params: map[string]*schema.ParameterInfo{
				"label":     {Type: schema.String, Required: true},
				"scale_max": {Type: schema.Integer, Enum: []string{"5", "10"}},
			},
		},
	}
}

func (g *fakeGateway) Execute(ctx context.Context, patientID string, req contractx.ToolRequest) (contractx.ToolResult, error) {
	g.calls = append(g.calls, req)
	if g.exec != nil {
		return g.exec(req)
	}
	if req.Tool != "medication.list" && req.Tool != "symptom.record" {
		err := fmt.Errorf("%w: %s", contractx.ErrUnknownTool, req.Tool)
		return contractx.ToolResult{Tool: req.Tool, Error: err.Error()}, err
	}
	return contractx.ToolResult{Tool: req.Tool, Result: summary("2 medication(s): Lisinopril, Metformin.")}, nil
}

func newReasoner(t *testing.T, p contractx.Provider, g contractx.ToolGateway, cfg Config) *Reasoner {
	t.Helper()
	r, err := New(p, g, promptx.LoadPromptSet(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func run(t *testing.T, r *Reasoner) (contractx.ReasonResult, error) {
	t.Helper()
	return r.Run(context.Background(), contractx.ReasonRequest{
		PatientID: "p1",
		Message:   "What am I taking?",
		Now:       testNow,
	})
}

const listCall = `{"thought":"check list","type":"tool_call","tool_name":"medication.list","arguments":{}}`

func TestRunAnswersDirectly(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{text: `{"type":"final_answer","answer":"Hello!"}`}}}
	res, err := run(t, newReasoner(t, p, &fakeGateway{}, Config{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != contractx.OutcomeAnswered || res.Answer != "Hello!" || res.Rounds != 1 || len(res.Traces) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(p.prompts[0], "medication.list") || !strings.Contains(p.prompts[0], "What am I taking?") {
		t.Fatal("prompt should list tools and the patient message")
	}
	if !strings.Contains(p.prompts[0], "scale_max (integer, one of 5|10)") {
		t.Fatalf("prompt should describe arguments:\n%s", p.prompts[0])
	}
}

func TestRunToolThenAnswer(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{
		{text: listCall},
		{text: `{"type":"final_answer","answer":"You take Lisinopril and Metformin."}`},
	}}
	g := &fakeGateway{}
	res, err := run(t, newReasoner(t, p, g, Config{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != contractx.OutcomeAnswered || res.Rounds != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Traces) != 1 || res.Traces[0].Tool != "medication.list" || res.Traces[0].Failed() {
		t.Fatalf("unexpected traces: %+v", res.Traces)
	}
	if !strings.Contains(p.prompts[1], "Observation: 2 medication(s): Lisinopril, Metformin.") {
		t.Fatalf("second prompt lacks observation:\n%s", p.prompts[1])
	}
}

func TestRunUnknownToolIsObservation(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{
		{text: `{"type":"tool_call","tool_name":"calendar.book","arguments":{}}`},
		{text: listCall},
		{text: `{"type":"final_answer","answer":"Done."}`},
	}}
	res, err := run(t, newReasoner(t, p, &fakeGateway{}, Config{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != contractx.OutcomeAnswered || len(res.Traces) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Traces[0].ErrorKind != "unknown_tool" {
		t.Fatalf("ErrorKind = %q, want unknown_tool", res.Traces[0].ErrorKind)
	}
	if !strings.Contains(p.prompts[1], "Observation: error (unknown_tool)") {
		t.Fatalf("second prompt lacks error observation:\n%s", p.prompts[1])
	}
}

func TestRunIterationCap(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{text: listCall}}}
	res, err := run(t, newReasoner(t, p, &fakeGateway{}, Config{MaxRounds: 3}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != contractx.OutcomeIterationCap || res.Rounds != 3 || len(res.Traces) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Answer, "Lisinopril") || strings.Count(res.Answer, "Lisinopril") != 1 {
		t.Fatalf("best-effort answer = %q", res.Answer)
	}
	if len(p.prompts) != 3 {
		t.Fatalf("provider calls = %d, want 3", len(p.prompts))
	}
}

func TestRunParseFailureAsksToRephrase(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{text: "You should take Lisinopril now."}}}
	res, err := run(t, newReasoner(t, p, &fakeGateway{}, Config{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != contractx.OutcomeNeedsClarification || res.Answer != RephraseText {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunFirstRoundProviderFailureIsHard(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{err: errors.New("401 unauthorized")}}}
	_, err := run(t, newReasoner(t, p, &fakeGateway{}, Config{}))
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Run() error = %v, want ErrModelInvoke", err)
	}
}

func TestRunLaterProviderFailureIsIncomplete(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{text: listCall}, {err: errors.New("502 bad gateway")}}}
	res, err := run(t, newReasoner(t, p, &fakeGateway{}, Config{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != contractx.OutcomeProviderFailure || res.Answer == "" || len(res.Traces) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunProviderTimeout(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{replies: []reply{{block: true}}}
	res, err := run(t, newReasoner(t, p, &fakeGateway{}, Config{ProviderTimeout: 20 * time.Millisecond}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != contractx.OutcomeReasoningTimeout || res.Answer == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunToolPanicAndTimeoutBecomeObservations(t *testing.T) {
	t.Parallel()

	calls := 0
	g := &fakeGateway{exec: func(req contractx.ToolRequest) (contractx.ToolResult, error) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		time.Sleep(200 * time.Millisecond)
		return contractx.ToolResult{Tool: req.Tool}, nil
	}}
	p := &scriptedProvider{replies: []reply{
		{text: listCall},
		{text: listCall},
		{text: `{"type":"final_answer","answer":"Sorry, the list is unavailable."}`},
	}}
	res, err := run(t, newReasoner(t, p, g, Config{ToolTimeout: 20 * time.Millisecond}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Traces) != 2 {
		t.Fatalf("traces = %+v", res.Traces)
	}
	if res.Traces[0].ErrorKind != "internal" || !strings.Contains(res.Traces[0].Error, "panic: boom") {
		t.Fatalf("panic trace = %+v", res.Traces[0])
	}
	if res.Traces[1].ErrorKind != "timeout" {
		t.Fatalf("timeout trace = %+v", res.Traces[1])
	}
}

func TestObservationIsBounded(t *testing.T) {
	t.Parallel()

	r := newReasoner(t, &scriptedProvider{replies: []reply{{text: "x"}}}, &fakeGateway{}, Config{ObservationLimit: 40})
	obs := r.observe(contractx.ToolTrace{Tool: "x", Error: strings.Repeat("e", 500), ErrorKind: "internal"})
	if !strings.HasSuffix(obs, "... (truncated)") || len([]rune(obs)) != 40+len("... (truncated)") {
		t.Fatalf("observe() = %q", obs)
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeGateway{}, promptx.LoadPromptSet(), Config{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("New() error = %v, want ErrValidation", err)
	}
	if _, err := New(&scriptedProvider{}, &fakeGateway{}, promptx.PromptSet{}, Config{}); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("New() error = %v, want ErrPromptMissing", err)
	}
}
