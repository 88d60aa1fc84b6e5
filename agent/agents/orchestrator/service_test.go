package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	reasonerx "github.com/tanpawarit/healthguard-agent/agent/agents/reasoner"
	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	memoryx "github.com/tanpawarit/healthguard-agent/agent/memory"
	nodex "github.com/tanpawarit/healthguard-agent/agent/nodes/orchestrator"
	promptx "github.com/tanpawarit/healthguard-agent/agent/prompt"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
	toolx "github.com/tanpawarit/healthguard-agent/agent/tool"
	metricsx "github.com/tanpawarit/healthguard-agent/pkg/metrics"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// scriptProvider answers each prompt with the next scripted reply, or with
// the reply computed by fn when set.
type scriptProvider struct {
	mu      sync.Mutex
	replies []string
	errs    map[int]error
	fn      func(prompt string) string
	calls   atomic.Int32
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Generate(ctx context.Context, prompt string) (string, error) {
	n := int(p.calls.Add(1))
	if p.fn != nil {
		return p.fn(prompt), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[n]; err != nil {
		return "", err
	}
	if len(p.replies) == 0 {
		return "", fmt.Errorf("no reply left at call=%d", n)
	}
	reply := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return reply, nil
}

type downAnswerer struct{}

func (downAnswerer) Name() string { return "down" }

func (downAnswerer) Answer(ctx context.Context, q toolx.MedicalQuery) (toolx.MedicalAnswer, error) {
	return toolx.MedicalAnswer{}, errors.New("503 service unavailable")
}

type harness struct {
	orch    *Orchestrator
	store   *statex.MemoryStore
	metrics *metricsx.Metrics
	reg     *prometheus.Registry
}

func newHarness(t *testing.T, provider contractx.Provider, cfg reasonerx.Config) harness {
	t.Helper()

	store := statex.NewMemoryStore()
	clock := func() time.Time { return testNow }

	medInfo, err := toolx.NewMedicalInfo(downAnswerer{})
	if err != nil {
		t.Fatalf("NewMedicalInfo() error = %v", err)
	}
	catalog, err := toolx.NewCatalog([]toolx.Capability{
		toolx.NewMedication(store),
		toolx.NewSymptom(store),
		toolx.NewHealthAnalysis(store),
		medInfo,
	}, toolx.WithClock(clock))
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics := metricsx.New(reg, "healthguard")

	r, err := reasonerx.New(provider, catalog, promptx.LoadPromptSet(), cfg, reasonerx.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("reasoner.New() error = %v", err)
	}
	window := memoryx.NewWindow(store, memoryx.WithCache(memoryx.NewLocalCache(time.Minute)))

	o, err := New(store, window, r, WithClock(clock), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return harness{orch: o, store: store, metrics: metrics, reg: reg}
}

func (h harness) turns(t *testing.T, patientID string) []statex.ConversationTurn {
	t.Helper()
	turns, err := h.store.RecentTurns(context.Background(), patientID, 0)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	return turns
}

func final(answer string) string {
	return fmt.Sprintf(`{"thought":"done","type":"final_answer","answer":%q}`, answer)
}

func TestHandleTurnFirstMedicationLog(t *testing.T) {
	t.Parallel()

	p := &scriptProvider{replies: []string{
		`{"thought":"log it","type":"tool_call","tool_name":"medication.record_intake","arguments":{"name":"Aspirin","dose_quantity":100,"dose_unit":"mg"}}`,
		final("I've recorded your Aspirin 100 mg."),
	}}
	h := newHarness(t, p, reasonerx.Config{})

	resp, err := h.orch.HandleTurn(context.Background(), "p1", "I just took aspirin 100mg")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.Outcome != contractx.OutcomeAnswered || resp.Incomplete {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.ResponseText, "Aspirin") {
		t.Fatalf("response should confirm the medication: %q", resp.ResponseText)
	}
	if len(resp.Trace) != 1 || resp.Trace[0].Tool != toolx.ToolMedicationRecordTaken || resp.Trace[0].Failed() {
		t.Fatalf("unexpected trace: %+v", resp.Trace)
	}

	med, err := h.store.GetMedication(context.Background(), "p1", "aspirin")
	if err != nil {
		t.Fatalf("GetMedication() error = %v", err)
	}
	if len(med.Intakes) != 1 {
		t.Fatalf("expected exactly one intake, got %d", len(med.Intakes))
	}

	turns := h.turns(t, "p1")
	if len(turns) != 2 || turns[0].Role != statex.RoleUser || turns[1].Role != statex.RoleAgent {
		t.Fatalf("expected user then agent turn, got %+v", turns)
	}
	if turns[1].Text != resp.ResponseText {
		t.Fatalf("stored agent text = %q, want %q", turns[1].Text, resp.ResponseText)
	}
	if got := testutil.ToFloat64(h.metrics.Turns.WithLabelValues(string(contractx.OutcomeAnswered))); got != 1 {
		t.Fatalf("answered turns metric = %v, want 1", got)
	}
}

func TestHandleTurnSymptomHistoryIsChronological(t *testing.T) {
	t.Parallel()

	times := []string{"2026-03-08T09:00:00Z", "2026-03-07T21:00:00Z", "2026-03-09T07:30:00Z"}
	var replies []string
	for i, at := range times {
		replies = append(replies,
			fmt.Sprintf(`{"type":"tool_call","tool_name":"symptom.record","arguments":{"label":"Headache","severity":%d,"recorded_at":%q}}`, i+3, at),
			final("Recorded."),
		)
	}
	replies = append(replies,
		`{"type":"tool_call","tool_name":"symptom.query","arguments":{"label":"headache"}}`,
		final("You logged three headaches."),
	)
	h := newHarness(t, &scriptProvider{replies: replies}, reasonerx.Config{})

	ctx := context.Background()
	for i := range times {
		if _, err := h.orch.HandleTurn(ctx, "p1", fmt.Sprintf("headache %d", i)); err != nil {
			t.Fatalf("HandleTurn(%d) error = %v", i, err)
		}
	}
	resp, err := h.orch.HandleTurn(ctx, "p1", "show my headaches")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(resp.Trace) != 1 {
		t.Fatalf("unexpected trace: %+v", resp.Trace)
	}
	list, ok := resp.Trace[0].Result.(toolx.SymptomList)
	if !ok {
		t.Fatalf("result type = %T, want SymptomList", resp.Trace[0].Result)
	}
	if list.Count != len(times) {
		t.Fatalf("Count = %d, want %d", list.Count, len(times))
	}
	for i := 1; i < len(list.Entries); i++ {
		if list.Entries[i].RecordedAt.Before(list.Entries[i-1].RecordedAt) {
			t.Fatalf("entries out of order: %+v", list.Entries)
		}
	}
	if got := len(h.turns(t, "p1")); got != 2*(len(times)+1) {
		t.Fatalf("stored turns = %d, want %d", got, 2*(len(times)+1))
	}
}

func TestHandleTurnMedicalInfoOutageIsIncomplete(t *testing.T) {
	t.Parallel()

	p := &scriptProvider{replies: []string{
		`{"type":"tool_call","tool_name":"medical_info.query","arguments":{"question":"What does metformin do?"}}`,
		final("I couldn't look that up right now."),
	}}
	h := newHarness(t, p, reasonerx.Config{})

	resp, err := h.orch.HandleTurn(context.Background(), "p1", "What does metformin do?")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !resp.Incomplete {
		t.Fatalf("expected incomplete response: %+v", resp)
	}
	if !strings.Contains(resp.ResponseText, toolx.ToolMedicalInfoQuery) {
		t.Fatalf("response should name the failed tool: %q", resp.ResponseText)
	}
	if resp.Trace[0].ErrorKind != "provider_unavailable" {
		t.Fatalf("ErrorKind = %q", resp.Trace[0].ErrorKind)
	}
}

func TestHandleTurnIterationCap(t *testing.T) {
	t.Parallel()

	p := &scriptProvider{replies: []string{`{"type":"tool_call","tool_name":"medication.list","arguments":{}}`}}
	h := newHarness(t, p, reasonerx.Config{MaxRounds: 3})

	resp, err := h.orch.HandleTurn(context.Background(), "p1", "what do I take?")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.Outcome != contractx.OutcomeIterationCap || !resp.Incomplete {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.HasPrefix(resp.ResponseText, nodex.IncompleteNotice) || len(resp.ResponseText) <= len(nodex.IncompleteNotice) {
		t.Fatalf("unexpected text: %q", resp.ResponseText)
	}
	if len(resp.Trace) != 3 {
		t.Fatalf("trace length = %d, want 3", len(resp.Trace))
	}
	first, _ := resp.Trace[0].Result.(toolx.MedicationList)
	for _, tr := range resp.Trace[1:] {
		got, _ := tr.Result.(toolx.MedicationList)
		if got.Summary() != first.Summary() {
			t.Fatalf("repeated list differs: %q vs %q", got.Summary(), first.Summary())
		}
	}
}

func TestHandleTurnDedupReplay(t *testing.T) {
	t.Parallel()

	p := &scriptProvider{replies: []string{
		`{"type":"tool_call","tool_name":"medication.record_intake","arguments":{"name":"Metformin"}}`,
		final("Logged Metformin."),
	}}
	h := newHarness(t, p, reasonerx.Config{})
	ctx := context.Background()

	first, err := h.orch.HandleTurn(ctx, "p1", "took metformin", WithDedupKey("msg-1"))
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	calls := p.calls.Load()

	second, err := h.orch.HandleTurn(ctx, "p1", "took metformin", WithDedupKey("msg-1"))
	if err != nil {
		t.Fatalf("HandleTurn() retry error = %v", err)
	}
	if !second.Replayed || second.ResponseText != first.ResponseText || second.Outcome != first.Outcome {
		t.Fatalf("unexpected replay: %+v", second)
	}
	if len(second.Trace) != 1 || second.Trace[0].Tool != toolx.ToolMedicationRecordTaken {
		t.Fatalf("replayed trace = %+v", second.Trace)
	}
	if p.calls.Load() != calls {
		t.Fatal("replay must not call the provider")
	}

	med, err := h.store.GetMedication(ctx, "p1", "Metformin")
	if err != nil {
		t.Fatalf("GetMedication() error = %v", err)
	}
	if len(med.Intakes) != 1 {
		t.Fatalf("intakes = %d, want 1", len(med.Intakes))
	}
	if got := len(h.turns(t, "p1")); got != 2 {
		t.Fatalf("stored turns = %d, want 2", got)
	}
}

func TestHandleTurnProviderHardFailure(t *testing.T) {
	t.Parallel()

	p := &scriptProvider{errs: map[int]error{1: errors.New("401 unauthorized")}, replies: []string{final("ok")}}
	h := newHarness(t, p, reasonerx.Config{})

	_, err := h.orch.HandleTurn(context.Background(), "p1", "hello", WithDedupKey("k"))
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("HandleTurn() error = %v, want ErrModelInvoke", err)
	}
	turns := h.turns(t, "p1")
	if len(turns) != 1 || turns[0].Role != statex.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", turns)
	}

	resp, err := h.orch.HandleTurn(context.Background(), "p1", "hello", WithDedupKey("k"))
	if err != nil {
		t.Fatalf("HandleTurn() retry error = %v", err)
	}
	if resp.Replayed || resp.ResponseText != "ok" {
		t.Fatalf("unexpected retry response: %+v", resp)
	}
	if got := len(h.turns(t, "p1")); got != 2 {
		t.Fatalf("stored turns = %d, want 2", got)
	}
}

func TestHandleTurnDedupKeyCannotAliasAgentTurn(t *testing.T) {
	t.Parallel()

	p := &scriptProvider{replies: []string{final("one"), final("two")}}
	h := newHarness(t, p, reasonerx.Config{})
	ctx := context.Background()

	if _, err := h.orch.HandleTurn(ctx, "p1", "first message", WithDedupKey("k")); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	resp, err := h.orch.HandleTurn(ctx, "p1", "second distinct message", WithDedupKey(statex.AgentDedupKey("k")))
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.Replayed || resp.ResponseText != "two" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	var users []string
	turns := h.turns(t, "p1")
	for _, turn := range turns {
		if turn.Role == statex.RoleUser {
			users = append(users, turn.Text)
		}
	}
	if len(turns) != 4 || len(users) != 2 {
		t.Fatalf("stored turns = %+v, want two user and two agent turns", turns)
	}
}

func TestHandleTurnDedupKeyReusedForNewMessage(t *testing.T) {
	t.Parallel()

	p := &scriptProvider{errs: map[int]error{1: errors.New("401 unauthorized")}, replies: []string{final("ok")}}
	h := newHarness(t, p, reasonerx.Config{})

	if _, err := h.orch.HandleTurn(context.Background(), "p1", "hello", WithDedupKey("k")); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("HandleTurn() error = %v, want ErrModelInvoke", err)
	}
	_, err := h.orch.HandleTurn(context.Background(), "p1", "something else", WithDedupKey("k"))
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("HandleTurn() error = %v, want ErrValidation", err)
	}
	if got := len(h.turns(t, "p1")); got != 1 {
		t.Fatalf("stored turns = %d, want 1", got)
	}
}

func TestHandleTurnInvalidInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptProvider{replies: []string{final("x")}}, reasonerx.Config{})

	if _, err := h.orch.HandleTurn(context.Background(), " ", "hello"); !errors.Is(err, ErrInvalidPatient) {
		t.Fatalf("error = %v, want ErrInvalidPatient", err)
	}
	if _, err := h.orch.HandleTurn(context.Background(), "p1", "  "); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestHandleTurnSerializesPerPatient(t *testing.T) {
	t.Parallel()

	p := &scriptProvider{fn: func(prompt string) string {
		if strings.Contains(prompt, "SCRATCHPAD") {
			return final("Logged.")
		}
		return `{"type":"tool_call","tool_name":"medication.record_intake","arguments":{"name":"Vitamin D"}}`
	}}
	h := newHarness(t, p, reasonerx.Config{})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		for _, patient := range []string{"p1", "p2"} {
			wg.Add(1)
			go func(patient string, i int) {
				defer wg.Done()
				_, err := h.orch.HandleTurn(context.Background(), patient, fmt.Sprintf("took vitamin d #%d", i))
				errs <- err
			}(patient, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("HandleTurn() error = %v", err)
		}
	}

	for _, patient := range []string{"p1", "p2"} {
		med, err := h.store.GetMedication(context.Background(), patient, "vitamin d")
		if err != nil {
			t.Fatalf("GetMedication(%s) error = %v", patient, err)
		}
		if len(med.Intakes) != n {
			t.Fatalf("%s intakes = %d, want %d", patient, len(med.Intakes), n)
		}
		turns := h.turns(t, patient)
		if len(turns) != 2*n {
			t.Fatalf("%s turns = %d, want %d", patient, len(turns), 2*n)
		}
		for i, turn := range turns {
			want := statex.RoleUser
			if i%2 == 1 {
				want = statex.RoleAgent
			}
			if turn.Role != want {
				t.Fatalf("%s turn %d role = %s, want %s", patient, i, turn.Role, want)
			}
		}
	}
}
