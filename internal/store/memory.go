package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memoryValue struct {
	value     string
	expiresAt time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore implements Store in process. Every operation runs under one
// mutex, which gives the same atomicity the Redis scripts provide.
type MemoryStore struct {
	mu       sync.Mutex
	nowFn    func() time.Time
	zsets    map[string][]Entry
	zsetTTL  map[string]time.Time
	values   map[string]memoryValue
	counters map[string]*memoryCounter
	sets     map[string]map[string]struct{}
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore(nowFn func() time.Time) *MemoryStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryStore{
		nowFn:    nowFn,
		zsets:    make(map[string][]Entry),
		zsetTTL:  make(map[string]time.Time),
		values:   make(map[string]memoryValue),
		counters: make(map[string]*memoryCounter),
		sets:     make(map[string]map[string]struct{}),
	}
}

// EvalWindowCheck mirrors the Redis window script under the store mutex.
func (s *MemoryStore) EvalWindowCheck(_ context.Context, key string, limit int64, window time.Duration, member string, now time.Time) (WindowResult, error) {
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.pruneZSetLocked(key, float64(cutoff), now)
	count := int64(len(entries))
	if limit <= 0 || count >= limit {
		var oldest float64
		if len(entries) > 0 {
			oldest = entries[0].Score
		}
		return WindowResult{Allowed: false, Count: count, OldestScore: oldest}, nil
	}
	entries = append(entries, Entry{Member: member, Score: float64(nowMs)})
	s.zsets[key] = entries
	s.zsetTTL[key] = now.Add(2 * window)
	return WindowResult{Allowed: true, Count: count + 1}, nil
}

// AtomicIncrement increments a counter, setting the TTL on first use.
func (s *MemoryStore) AtomicIncrement(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.counters[key]
	if counter == nil || (!counter.expiresAt.IsZero() && !now.Before(counter.expiresAt)) {
		counter = &memoryCounter{}
		if ttl > 0 {
			counter.expiresAt = now.Add(ttl)
		}
		s.counters[key] = counter
	}
	counter.count++
	return counter.count, nil
}

// SortedSetAdd adds a member and refreshes the key TTL.
func (s *MemoryStore) SortedSetAdd(_ context.Context, key, member string, score float64, ttl time.Duration) error {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.liveZSetLocked(key, now)
	entries = append(entries, Entry{Member: member, Score: score})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score < entries[j].Score })
	s.zsets[key] = entries
	if ttl > 0 {
		s.zsetTTL[key] = now.Add(ttl)
	}
	return nil
}

// SortedSetRemoveBelow removes members with score strictly below cutoff.
func (s *MemoryStore) SortedSetRemoveBelow(_ context.Context, key string, cutoff float64) error {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneZSetLocked(key, cutoff, now)
	return nil
}

// SortedSetTail returns up to limit newest entries in ascending score order.
func (s *MemoryStore) SortedSetTail(_ context.Context, key string, limit int64) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.liveZSetLocked(key, now)
	if int64(len(entries)) > limit {
		entries = entries[int64(len(entries))-limit:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// SortedSetCardinality returns the member count of a sorted set.
func (s *MemoryStore) SortedSetCardinality(_ context.Context, key string) (int64, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.liveZSetLocked(key, now))), nil
}

// SortedSetCountFrom counts members with score >= min.
func (s *MemoryStore) SortedSetCountFrom(_ context.Context, key string, min float64) (int64, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, entry := range s.liveZSetLocked(key, now) {
		if entry.Score >= min {
			count++
		}
	}
	return count, nil
}

// Get reads a string value; the bool reports presence.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.values[key]
	if ok {
		if item.expiresAt.IsZero() || now.Before(item.expiresAt) {
			return item.value, true, nil
		}
		delete(s.values, key)
	}
	// Counters are readable as strings, matching Redis GET on INCR keys.
	if counter, okCounter := s.counters[key]; okCounter {
		if counter.expiresAt.IsZero() || now.Before(counter.expiresAt) {
			return strconv.FormatInt(counter.count, 10), true, nil
		}
		delete(s.counters, key)
	}
	return "", false, nil
}

// Set writes a string value with a TTL.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	item := memoryValue{value: value}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	s.values[key] = item
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.counters, key)
	delete(s.zsets, key)
	delete(s.zsetTTL, key)
	delete(s.sets, key)
	return nil
}

// Exists reports whether a key is present.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.values[key]; ok {
		if item.expiresAt.IsZero() || now.Before(item.expiresAt) {
			return true, nil
		}
		delete(s.values, key)
	}
	if counter, ok := s.counters[key]; ok {
		if counter.expiresAt.IsZero() || now.Before(counter.expiresAt) {
			return true, nil
		}
		delete(s.counters, key)
	}
	if len(s.liveZSetLocked(key, now)) > 0 {
		return true, nil
	}
	if members, ok := s.sets[key]; ok && len(members) > 0 {
		return true, nil
	}
	return false, nil
}

// SetAdd adds a member to a plain set.
func (s *MemoryStore) SetAdd(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.sets[key]
	if members == nil {
		members = make(map[string]struct{})
		s.sets[key] = members
	}
	members[member] = struct{}{}
	return nil
}

// SetRemove removes a member from a plain set.
func (s *MemoryStore) SetRemove(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if members, ok := s.sets[key]; ok {
		delete(members, member)
	}
	return nil
}

// SetContains reports set membership.
func (s *MemoryStore) SetContains(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sets[key]
	if !ok {
		return false, nil
	}
	_, found := members[member]
	return found, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// liveZSetLocked returns a zset slice, dropping it when the key TTL passed.
func (s *MemoryStore) liveZSetLocked(key string, now time.Time) []Entry {
	if deadline, ok := s.zsetTTL[key]; ok && !now.Before(deadline) {
		delete(s.zsets, key)
		delete(s.zsetTTL, key)
		return nil
	}
	return s.zsets[key]
}

// pruneZSetLocked removes entries with score strictly below cutoff.
func (s *MemoryStore) pruneZSetLocked(key string, cutoff float64, now time.Time) []Entry {
	entries := s.liveZSetLocked(key, now)
	if len(entries) == 0 {
		return entries
	}
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Score >= cutoff })
	if idx > 0 {
		entries = entries[idx:]
		s.zsets[key] = entries
	}
	return entries
}
