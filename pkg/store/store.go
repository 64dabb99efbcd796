package store

import (
	"context"
	"time"
)

// Mode describes how a store is currently serving requests.
type Mode string

const (
	// ModeShared means state is shared across processes and durable.
	ModeShared Mode = "shared"
	// ModeFallback means a shared backend is configured but unreachable,
	// so state lives only in this process until it recovers.
	ModeFallback Mode = "fallback"
	// ModeLocal means no shared backend is configured at all.
	ModeLocal Mode = "local"
)

// Entry is a member of an ordered set together with its score.
type Entry struct {
	Payload []byte
	Score   float64
}

// Subscription delivers messages published on a topic.
type Subscription interface {
	// Messages returns the delivery channel. It is closed by Close.
	Messages() <-chan []byte
	Close() error
}

// Store is the storage contract used by queues, the dead-letter archive,
// cancellation markers and locks.
type Store interface {
	// PushWithScore adds payload to the ordered set at key.
	PushWithScore(ctx context.Context, key string, payload []byte, score float64) error
	// PopMin atomically removes and returns the lowest-scored member.
	// The boolean is false when the set is empty.
	PopMin(ctx context.Context, key string) (Entry, bool, error)
	// PopMinUpTo is PopMin restricted to members with score <= maxScore.
	PopMinUpTo(ctx context.Context, key string, maxScore float64) (Entry, bool, error)
	Length(ctx context.Context, key string) (int64, error)
	// RangeByScoreDesc returns up to limit members, highest score first.
	// A non-positive limit returns all members.
	RangeByScoreDesc(ctx context.Context, key string, limit int) ([]Entry, error)
	// TrimToLast keeps only the n highest-scored members.
	TrimToLast(ctx context.Context, key string, n int) error
	// Remove deletes the exact payload and reports whether it was present.
	Remove(ctx context.Context, key string, payload []byte) (bool, error)

	Publish(ctx context.Context, topic string, msg []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// SetIfAbsentWithTTL stores value only if key does not exist.
	SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// CompareAndDelete atomically deletes key only if its value equals expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Mode() Mode
	Close() error
}
