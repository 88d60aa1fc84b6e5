package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	nodex "github.com/tanpawarit/healthguard-agent/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
	metricsx "github.com/tanpawarit/healthguard-agent/pkg/metrics"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidPatient = nodex.ErrInvalidPatient
)

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithMetrics(m *metricsx.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

type turnOptions struct {
	dedupKey string
}

type TurnOption func(*turnOptions)

// WithDedupKey makes a turn idempotent: a retry with the same key returns the
// stored response instead of running again.
func WithDedupKey(key string) TurnOption {
	return func(t *turnOptions) {
		t.dedupKey = key
	}
}

// Orchestrator is the single entry point of the agent: one HandleTurn call per
// patient message.
type Orchestrator struct {
	store    statex.Store
	memory   contractx.MemoryStore
	reasoner contractx.Reasoner

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]
	locks       *statex.KeyedMutex
	metrics     *metricsx.Metrics

	now func() time.Time
}

func New(
	store statex.Store,
	memory contractx.MemoryStore,
	reasoner contractx.Reasoner,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("patient store is required")
	}
	if memory == nil {
		return nil, errors.New("memory store is required")
	}
	if reasoner == nil {
		return nil, errors.New("reasoner is required")
	}

	o := &Orchestrator{
		store:    store,
		memory:   memory,
		reasoner: reasoner,
		locks:    statex.NewKeyedMutex(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn answers one patient message. Turns of the same patient run one at
// a time. The only errors returned are invalid input, storage failures and a
// reasoning provider that failed before producing any reply.
func (o *Orchestrator) HandleTurn(
	ctx context.Context,
	patientID string,
	message string,
	opts ...TurnOption,
) (contractx.TurnResponse, error) {
	var to turnOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&to)
		}
	}

	unlock := o.locks.Lock(strings.TrimSpace(patientID))
	defer unlock()

	start := time.Now()
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		PatientID: patientID,
		Message:   message,
		DedupKey:  to.dedupKey,
	})
	if err != nil {
		log.Error().Err(err).Str("patient_id", patientID).Msg("handle turn failed")
		o.metrics.ObserveTurn("error", 0)
		return contractx.TurnResponse{}, err
	}

	resp := out.Response
	if !resp.Replayed {
		o.metrics.ObserveTurn(string(resp.Outcome), out.Rounds)
	}
	log.Info().
		Str("patient_id", patientID).
		Str("outcome", string(resp.Outcome)).
		Bool("incomplete", resp.Incomplete).
		Bool("replayed", resp.Replayed).
		Int("rounds", out.Rounds).
		Int("tool_calls", len(resp.Trace)).
		Dur("elapsed", time.Since(start)).
		Msg("turn handled")
	return resp, nil
}
