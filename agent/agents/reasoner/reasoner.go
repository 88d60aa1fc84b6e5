package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	promptx "github.com/tanpawarit/healthguard-agent/agent/prompt"
	metricsx "github.com/tanpawarit/healthguard-agent/pkg/metrics"
)

const (
	DefaultMaxRounds        = 6
	DefaultProviderTimeout  = 30 * time.Second
	DefaultToolTimeout      = 15 * time.Second
	DefaultObservationLimit = 1500

	// RephraseText answers a turn whose provider reply could not be parsed.
	RephraseText = "I'm sorry, I couldn't work out how to help with that. Could you rephrase your request?"
)

type Config struct {
	MaxRounds        int           `envconfig:"MAX_ROUNDS" split_words:"true" default:"6"`
	ProviderTimeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" split_words:"true" default:"30s"`
	ToolTimeout      time.Duration `envconfig:"TOOL_TIMEOUT" split_words:"true" default:"15s"`
	ObservationLimit int           `envconfig:"OBSERVATION_LIMIT" split_words:"true" default:"1500"`
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.ObservationLimit <= 0 {
		c.ObservationLimit = DefaultObservationLimit
	}
	return c
}

type Option func(*Reasoner)

func WithMetrics(m *metricsx.Metrics) Option {
	return func(r *Reasoner) {
		r.metrics = m
	}
}

// WithLocation sets the zone the current time is shown in.
func WithLocation(loc *time.Location) Option {
	return func(r *Reasoner) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// Reasoner runs the Thought/Action/Observation loop for one turn.
type Reasoner struct {
	provider contractx.Provider
	tools    contractx.ToolGateway
	prompts  promptx.PromptSet
	cfg      Config
	metrics  *metricsx.Metrics
	loc      *time.Location
}

var _ contractx.Reasoner = (*Reasoner)(nil)

func New(provider contractx.Provider, tools contractx.ToolGateway, prompts promptx.PromptSet, cfg Config, opts ...Option) (*Reasoner, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: reasoning provider is required", contractx.ErrValidation)
	}
	if tools == nil {
		return nil, fmt.Errorf("%w: tool gateway is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(prompts.System) == "" {
		return nil, fmt.Errorf("%w: system prompt", contractx.ErrPromptMissing)
	}

	r := &Reasoner{
		provider: provider,
		tools:    tools,
		prompts:  prompts,
		cfg:      cfg.withDefaults(),
		loc:      time.UTC,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run drives the loop until the provider answers or asks for clarification,
// or until the round cap, a timeout or a provider failure stops it. Only a
// provider failure before any reply is returned as an error.
func (r *Reasoner) Run(ctx context.Context, req contractx.ReasonRequest) (contractx.ReasonResult, error) {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}

	var (
		steps  []step
		traces []contractx.ToolTrace
	)
	result := func(outcome contractx.Outcome, answer string, rounds int) contractx.ReasonResult {
		return contractx.ReasonResult{Answer: answer, Outcome: outcome, Traces: traces, Rounds: rounds}
	}

	for round := 1; round <= r.cfg.MaxRounds; round++ {
		logger := log.With().Str("patient_id", req.PatientID).Int("round", round).Logger()

		text, err := r.generate(ctx, r.buildPrompt(req, steps))
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return contractx.ReasonResult{}, err
			case isTimeout(err):
				logger.Warn().Err(err).Msg("reasoning provider timed out")
				return result(contractx.OutcomeReasoningTimeout, bestEffort(traces), round), nil
			case round == 1:
				return contractx.ReasonResult{}, fmt.Errorf("%w: %s: %v", contractx.ErrModelInvoke, r.provider.Name(), err)
			default:
				logger.Warn().Err(err).Msg("reasoning provider failed")
				return result(contractx.OutcomeProviderFailure, bestEffort(traces), round), nil
			}
		}

		d, err := ParseDecision(text)
		if err != nil {
			logger.Warn().Err(err).Str("reply", truncate(text, 300)).Msg("unparseable provider reply")
			return result(contractx.OutcomeNeedsClarification, RephraseText, round), nil
		}

		switch d.Kind {
		case contractx.DecisionFinalAnswer:
			return result(contractx.OutcomeAnswered, d.Answer, round), nil
		case contractx.DecisionClarify:
			return result(contractx.OutcomeNeedsClarification, d.Question, round), nil
		}

		trace := r.invoke(ctx, req.PatientID, round, d)
		traces = append(traces, trace)
		steps = append(steps, step{
			Round:       round,
			Thought:     d.Thought,
			Action:      encodeAction(d.Action),
			Observation: r.observe(trace),
		})
		logger.Debug().Str("tool", trace.Tool).Str("error_kind", trace.ErrorKind).Msg("tool observed")
	}

	log.Warn().Str("patient_id", req.PatientID).Int("max_rounds", r.cfg.MaxRounds).Msg("reasoning round cap reached")
	return result(contractx.OutcomeIterationCap, bestEffort(traces), r.cfg.MaxRounds), nil
}

func (r *Reasoner) generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	text, err := callWithTimeout(ctx, r.cfg.ProviderTimeout, func(ctx context.Context) (string, error) {
		return r.provider.Generate(ctx, prompt)
	})
	status := "ok"
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("%w: empty reply", contractx.ErrSchemaViolation)
	}
	if err != nil {
		status = contractx.ErrorKind(err)
	}
	r.metrics.ObserveProvider(r.provider.Name(), status, time.Since(start))
	return text, err
}

func (r *Reasoner) invoke(ctx context.Context, patientID string, round int, d contractx.Decision) contractx.ToolTrace {
	start := time.Now()
	res, err := callWithTimeout(ctx, r.cfg.ToolTimeout, func(ctx context.Context) (contractx.ToolResult, error) {
		return r.tools.Execute(ctx, patientID, *d.Action)
	})

	trace := contractx.ToolTrace{
		Round:    round,
		Thought:  d.Thought,
		Tool:     d.Action.Tool,
		Args:     d.Action.Args,
		Duration: time.Since(start),
	}
	status := "ok"
	if err != nil {
		trace.Error = err.Error()
		trace.ErrorKind = contractx.ErrorKind(err)
		status = trace.ErrorKind
	} else {
		trace.Result = res.Result
	}
	r.metrics.ObserveTool(trace.Tool, status, trace.Duration)
	return trace
}

// observe renders a trace as the bounded text fed back to the provider.
func (r *Reasoner) observe(t contractx.ToolTrace) string {
	if t.Failed() {
		return truncate(fmt.Sprintf("error (%s): %s", t.ErrorKind, t.Error), r.cfg.ObservationLimit)
	}

	var b strings.Builder
	if s, ok := t.Result.(contractx.Summarizer); ok {
		b.WriteString(s.Summary())
		b.WriteString(" ")
	}
	payload, err := json.Marshal(t.Result)
	if err != nil {
		b.WriteString("(result could not be encoded)")
	} else {
		b.WriteString("result: ")
		b.Write(payload)
	}
	return truncate(b.String(), r.cfg.ObservationLimit)
}

func encodeAction(a *contractx.ToolRequest) string {
	payload, err := json.Marshal(a)
	if err != nil {
		return a.Tool
	}
	return string(payload)
}

// bestEffort composes an answer from the successful observations of a turn
// that ended without a final answer.
func bestEffort(traces []contractx.ToolTrace) string {
	var lines []string
	seen := map[string]bool{}
	for _, t := range traces {
		if t.Failed() {
			continue
		}
		line := fmt.Sprintf("- %s completed.", t.Tool)
		if s, ok := t.Result.(contractx.Summarizer); ok && strings.TrimSpace(s.Summary()) != "" {
			line = "- " + strings.TrimSpace(s.Summary())
		}
		if !seen[line] {
			seen[line] = true
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "I wasn't able to finish working on your request. Please try again, or rephrase it."
	}
	return "Here is what I was able to gather so far:\n" + strings.Join(lines, "\n")
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "... (truncated)"
}
