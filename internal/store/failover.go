package store

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const breakerDuration = 30 * time.Second

// Failover serves from the primary store and falls back to the secondary
// when the primary errors. A tripped breaker keeps traffic on the fallback
// for a cooldown period so a dead Redis is not retried on every request.
type Failover struct {
	primary  Store
	fallback Store
	nowFn    func() time.Time

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewFailover constructs a Failover. A nil primary routes everything to the
// fallback.
func NewFailover(primary, fallback Store, nowFn func() time.Time) *Failover {
	if nowFn == nil {
		nowFn = time.Now
	}
	if fallback == nil {
		fallback = NewMemoryStore(nowFn)
	}
	return &Failover{primary: primary, fallback: fallback, nowFn: nowFn}
}

// Degraded reports whether the breaker is currently tripped.
func (f *Failover) Degraded() bool {
	if f == nil {
		return false
	}
	return f.active(f.nowFn()) == f.fallback && f.primary != nil
}

func (f *Failover) active(now time.Time) Store {
	if f.primary == nil {
		return f.fallback
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.breakerUntil.IsZero() {
		if now.Before(f.breakerUntil) {
			return f.fallback
		}
		f.breakerUntil = time.Time{}
	}
	return f.primary
}

func (f *Failover) trip(err error, now time.Time) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.breakerUntil.IsZero() && now.Before(f.breakerUntil) {
		return
	}
	f.breakerUntil = now.Add(breakerDuration)
	log.WithError(err).Warn("store: primary unavailable, falling back to memory")
}

// EvalWindowCheck runs the window check on the active store.
func (f *Failover) EvalWindowCheck(ctx context.Context, key string, limit int64, window time.Duration, member string, now time.Time) (WindowResult, error) {
	active := f.active(now)
	result, err := active.EvalWindowCheck(ctx, key, limit, window, member, now)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.EvalWindowCheck(ctx, key, limit, window, member, now)
	}
	return result, err
}

// AtomicIncrement increments on the active store.
func (f *Failover) AtomicIncrement(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := f.nowFn()
	active := f.active(now)
	count, err := active.AtomicIncrement(ctx, key, ttl)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.AtomicIncrement(ctx, key, ttl)
	}
	return count, err
}

// SortedSetAdd adds on the active store.
func (f *Failover) SortedSetAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	now := f.nowFn()
	active := f.active(now)
	err := active.SortedSetAdd(ctx, key, member, score, ttl)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.SortedSetAdd(ctx, key, member, score, ttl)
	}
	return err
}

// SortedSetRemoveBelow prunes on the active store.
func (f *Failover) SortedSetRemoveBelow(ctx context.Context, key string, cutoff float64) error {
	now := f.nowFn()
	active := f.active(now)
	err := active.SortedSetRemoveBelow(ctx, key, cutoff)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.SortedSetRemoveBelow(ctx, key, cutoff)
	}
	return err
}

// SortedSetTail reads from the active store.
func (f *Failover) SortedSetTail(ctx context.Context, key string, limit int64) ([]Entry, error) {
	now := f.nowFn()
	active := f.active(now)
	entries, err := active.SortedSetTail(ctx, key, limit)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.SortedSetTail(ctx, key, limit)
	}
	return entries, err
}

// SortedSetCardinality reads from the active store.
func (f *Failover) SortedSetCardinality(ctx context.Context, key string) (int64, error) {
	now := f.nowFn()
	active := f.active(now)
	count, err := active.SortedSetCardinality(ctx, key)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.SortedSetCardinality(ctx, key)
	}
	return count, err
}

// SortedSetCountFrom reads from the active store.
func (f *Failover) SortedSetCountFrom(ctx context.Context, key string, min float64) (int64, error) {
	now := f.nowFn()
	active := f.active(now)
	count, err := active.SortedSetCountFrom(ctx, key, min)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.SortedSetCountFrom(ctx, key, min)
	}
	return count, err
}

// Get reads from the active store.
func (f *Failover) Get(ctx context.Context, key string) (string, bool, error) {
	now := f.nowFn()
	active := f.active(now)
	value, ok, err := active.Get(ctx, key)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.Get(ctx, key)
	}
	return value, ok, err
}

// Set writes on the active store.
func (f *Failover) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	now := f.nowFn()
	active := f.active(now)
	err := active.Set(ctx, key, value, ttl)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.Set(ctx, key, value, ttl)
	}
	return err
}

// Delete removes on the active store.
func (f *Failover) Delete(ctx context.Context, key string) error {
	now := f.nowFn()
	active := f.active(now)
	err := active.Delete(ctx, key)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.Delete(ctx, key)
	}
	return err
}

// Exists reads from the active store.
func (f *Failover) Exists(ctx context.Context, key string) (bool, error) {
	now := f.nowFn()
	active := f.active(now)
	found, err := active.Exists(ctx, key)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.Exists(ctx, key)
	}
	return found, err
}

// SetAdd adds on the active store.
func (f *Failover) SetAdd(ctx context.Context, key, member string) error {
	now := f.nowFn()
	active := f.active(now)
	err := active.SetAdd(ctx, key, member)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.SetAdd(ctx, key, member)
	}
	return err
}

// SetRemove removes on the active store.
func (f *Failover) SetRemove(ctx context.Context, key, member string) error {
	now := f.nowFn()
	active := f.active(now)
	err := active.SetRemove(ctx, key, member)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.SetRemove(ctx, key, member)
	}
	return err
}

// SetContains reads from the active store.
func (f *Failover) SetContains(ctx context.Context, key, member string) (bool, error) {
	now := f.nowFn()
	active := f.active(now)
	found, err := active.SetContains(ctx, key, member)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.SetContains(ctx, key, member)
	}
	return found, err
}

// Ping checks the active store.
func (f *Failover) Ping(ctx context.Context) error {
	now := f.nowFn()
	active := f.active(now)
	err := active.Ping(ctx)
	if err != nil && active == f.primary {
		f.trip(err, now)
		return f.fallback.Ping(ctx)
	}
	return err
}
