package presence

import (
	"context"
	"time"
)

// Record describes one active chat session as mirrored to the presence cache.
type Record struct {
	ID       string    `json:"session_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

type Cache interface {
	SetSession(ctx context.Context, record *Record) error
	GetSession(ctx context.Context, sessionID string) (*Record, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// NopCache is used when no presence backend is configured.
type NopCache struct{}

func (NopCache) SetSession(context.Context, *Record) error { return nil }

func (NopCache) GetSession(context.Context, string) (*Record, error) { return nil, nil }

func (NopCache) DeleteSession(context.Context, string) error { return nil }
