package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

// Cache stores the recent-turn window of each patient.
type Cache interface {
	Get(ctx context.Context, patientID string) ([]statex.ConversationTurn, bool, error)
	Set(ctx context.Context, patientID string, turns []statex.ConversationTurn) error
	Delete(ctx context.Context, patientID string) error
}

// LocalCache is an in-process Cache with per-entry expiry.
type LocalCache struct {
	c *gocache.Cache
}

var _ Cache = (*LocalCache)(nil)

func NewLocalCache(ttl time.Duration) *LocalCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &LocalCache{c: gocache.New(ttl, 2*ttl)}
}

func (l *LocalCache) Get(_ context.Context, patientID string) ([]statex.ConversationTurn, bool, error) {
	v, ok := l.c.Get(patientID)
	if !ok {
		return nil, false, nil
	}
	turns, _ := v.([]statex.ConversationTurn)
	return cloneTurns(turns), true, nil
}

func (l *LocalCache) Set(_ context.Context, patientID string, turns []statex.ConversationTurn) error {
	l.c.SetDefault(patientID, cloneTurns(turns))
	return nil
}

func (l *LocalCache) Delete(_ context.Context, patientID string) error {
	l.c.Delete(patientID)
	return nil
}

func cloneTurns(in []statex.ConversationTurn) []statex.ConversationTurn {
	out := make([]statex.ConversationTurn, len(in))
	copy(out, in)
	return out
}
