package store

import (
	"context"
	"time"
)

// Entry is one member of a sorted-set request log.
type Entry struct {
	Member string
	Score  float64
}

// WindowResult reports the outcome of an atomic sliding-window check.
type WindowResult struct {
	Allowed     bool
	Count       int64   // entries inside the window after the check
	OldestScore float64 // unix milliseconds of the oldest surviving entry, 0 when empty
}

// Store is the backing-store client the engine runs against. Redis is the
// production implementation; the memory implementation mirrors its semantics
// for tests and degraded operation.
type Store interface {
	// EvalWindowCheck atomically prunes entries older than now-window,
	// counts the survivors, and inserts the member when count < limit.
	// Entries with score exactly now-window stay inside the window.
	EvalWindowCheck(ctx context.Context, key string, limit int64, window time.Duration, member string, now time.Time) (WindowResult, error)

	// AtomicIncrement increments a counter, setting the TTL on first use.
	AtomicIncrement(ctx context.Context, key string, ttl time.Duration) (int64, error)

	SortedSetAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error
	SortedSetRemoveBelow(ctx context.Context, key string, cutoff float64) error
	// SortedSetTail returns up to limit newest entries in ascending score order.
	SortedSetTail(ctx context.Context, key string, limit int64) ([]Entry, error)
	SortedSetCardinality(ctx context.Context, key string) (int64, error)
	// SortedSetCountFrom counts members with score >= min.
	SortedSetCountFrom(ctx context.Context, key string, min float64) (int64, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetContains(ctx context.Context, key, member string) (bool, error)

	Ping(ctx context.Context) error
}
