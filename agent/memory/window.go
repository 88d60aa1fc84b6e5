package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

// DefaultWindowSize is the number of most recent turns given to the reasoner.
const DefaultWindowSize = 12

type Option func(*Window)

func WithSize(n int) Option {
	return func(w *Window) {
		if n > 0 {
			w.size = n
		}
	}
}

func WithCache(c Cache) Option {
	return func(w *Window) {
		w.cache = c
	}
}

// Window is the conversation memory of the orchestrator: a bounded view of
// the most recent turns over the patient store, optionally cached.
type Window struct {
	store statex.Store
	cache Cache
	size  int
}

var _ contractx.MemoryStore = (*Window)(nil)

func NewWindow(store statex.Store, opts ...Option) *Window {
	w := &Window{store: store, size: DefaultWindowSize}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

func (w *Window) Size() int {
	return w.size
}

// Recent returns up to Size turns for patientID, oldest first.
func (w *Window) Recent(ctx context.Context, patientID string) ([]statex.ConversationTurn, error) {
	if w.cache != nil {
		turns, ok, err := w.cache.Get(ctx, patientID)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("patient_id", patientID).Msg("memory cache read failed")
		case ok:
			return trim(turns, w.size), nil
		}
	}

	turns, err := w.store.RecentTurns(ctx, patientID, w.size)
	if err != nil {
		return nil, fmt.Errorf("read recent turns: %w", err)
	}
	if w.cache != nil {
		if err := w.cache.Set(ctx, patientID, turns); err != nil {
			log.Warn().Err(err).Str("patient_id", patientID).Msg("memory cache write failed")
		}
	}
	return turns, nil
}

// Append persists turn. It reports false when a turn with the same dedup key
// already exists.
func (w *Window) Append(ctx context.Context, turn *statex.ConversationTurn) (bool, error) {
	appended, err := w.store.AppendTurn(ctx, turn)
	if err != nil {
		return false, fmt.Errorf("append turn: %w", err)
	}
	if !appended || w.cache == nil {
		return appended, nil
	}

	cached, ok, err := w.cache.Get(ctx, turn.PatientID)
	if err == nil && ok {
		err = w.cache.Set(ctx, turn.PatientID, trim(append(cached, *turn), w.size))
		if err == nil {
			return true, nil
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("patient_id", turn.PatientID).Msg("memory cache update failed, invalidating")
	}
	if derr := w.cache.Delete(ctx, turn.PatientID); derr != nil {
		log.Error().Err(derr).Str("patient_id", turn.PatientID).Msg("memory cache invalidation failed")
	}
	return true, nil
}

// FindTurn returns the turn stored under dedupKey, or nil when there is none.
func (w *Window) FindTurn(ctx context.Context, patientID, dedupKey string) (*statex.ConversationTurn, error) {
	if dedupKey == "" {
		return nil, nil
	}
	turn, err := w.store.FindTurn(ctx, patientID, dedupKey)
	if errors.Is(err, statex.ErrTurnNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find turn: %w", err)
	}
	return turn, nil
}

func trim(turns []statex.ConversationTurn, n int) []statex.ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
