package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_WindowCheckEnforcesLimit(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := s.EvalWindowCheck(ctx, "win", 5, time.Minute, fmt.Sprintf("m%d", i), now)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("check %d: expected allowed", i)
		}
	}
	result, err := s.EvalWindowCheck(ctx, "win", 5, time.Minute, "m5", now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected deny at limit")
	}
	if result.Count != 5 {
		t.Fatalf("expected count=5, got %d", result.Count)
	}
	if result.OldestScore != float64(now.UnixMilli()) {
		t.Fatalf("expected oldest=%d, got %f", now.UnixMilli(), result.OldestScore)
	}
}

func TestMemoryStore_WindowCheckExpiresOldEntries(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewMemoryStore(func() time.Time { return base })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.EvalWindowCheck(ctx, "win", 3, time.Minute, fmt.Sprintf("m%d", i), base); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	if result, _ := s.EvalWindowCheck(ctx, "win", 3, time.Minute, "denied", base); result.Allowed {
		t.Fatalf("expected deny while window full")
	}

	later := base.Add(time.Minute + time.Millisecond)
	result, err := s.EvalWindowCheck(ctx, "win", 3, time.Minute, "fresh", later)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allow after window passed")
	}
	if result.Count != 1 {
		t.Fatalf("expected count=1, got %d", result.Count)
	}
}

func TestMemoryStore_WindowCheckBoundaryEntryCounts(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewMemoryStore(func() time.Time { return base })
	ctx := context.Background()

	if _, err := s.EvalWindowCheck(ctx, "win", 2, time.Minute, "old", base); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Exactly window later: the old entry sits on the boundary and still counts.
	edge := base.Add(time.Minute)
	result, err := s.EvalWindowCheck(ctx, "win", 2, time.Minute, "edge", edge)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Allowed || result.Count != 2 {
		t.Fatalf("expected allow with count=2, got %+v", result)
	}
	if denied, _ := s.EvalWindowCheck(ctx, "win", 2, time.Minute, "third", edge); denied.Allowed {
		t.Fatalf("expected deny, boundary entry should still count")
	}
}

func TestMemoryStore_WindowCheckZeroLimitDenies(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewMemoryStore(func() time.Time { return now })

	result, err := s.EvalWindowCheck(context.Background(), "win", 0, time.Minute, "m", now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected deny for zero limit")
	}
}

func TestMemoryStore_WindowCheckConcurrent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	const limit = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := s.EvalWindowCheck(ctx, "win", limit, time.Minute, fmt.Sprintf("m%d", i), now)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if allowed != limit {
		t.Fatalf("expected exactly %d allowed, got %d", limit, allowed)
	}
}

func TestMemoryStore_AtomicIncrementTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.AtomicIncrement(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	now = now.Add(2 * time.Minute)
	got, err := s.AtomicIncrement(ctx, "counter", time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected counter reset to 1, got %d", got)
	}
}

func TestMemoryStore_GetSetExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("expected v, got %q ok=%v err=%v", value, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected key expired")
	}
	if found, _ := s.Exists(ctx, "k"); found {
		t.Fatalf("expected exists=false after expiry")
	}
}

func TestMemoryStore_SortedSetTail(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.SortedSetAdd(ctx, "hist", fmt.Sprintf("m%d", i), float64(i), time.Minute); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	entries, err := s.SortedSetTail(ctx, "hist", 3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Score != 7 || entries[2].Score != 9 {
		t.Fatalf("expected newest ascending tail, got %+v", entries)
	}
}

func TestMemoryStore_Sets(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	if err := s.SetAdd(ctx, "acl", "ip:1.2.3.4"); err != nil {
		t.Fatalf("add: %v", err)
	}
	found, err := s.SetContains(ctx, "acl", "ip:1.2.3.4")
	if err != nil || !found {
		t.Fatalf("expected member present, found=%v err=%v", found, err)
	}
	if err := s.SetRemove(ctx, "acl", "ip:1.2.3.4"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if found, _ := s.SetContains(ctx, "acl", "ip:1.2.3.4"); found {
		t.Fatalf("expected member removed")
	}
}
