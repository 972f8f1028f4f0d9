package domain

import (
	"context"
	"time"
)

// Redis channel and stream carrying committed marketplace events.
const (
	EventsChannel = "marketd:events"
	EventsStream  = "marketd:events:log"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read back from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus fans events out over pub/sub and keeps a bounded, replayable
// stream of them.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
