package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/guardrailhq/guardrail/internal/store"
)

func TestWindowCounter_EnforcesLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	st := store.NewMemoryStore(func() time.Time { return now })
	counter := NewWindowCounter(st)
	subject := Subject{Kind: SubjectIP, Value: "10.0.0.1"}
	limit := AdaptiveLimit{Requests: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		outcome, errCheck := counter.Check(context.Background(), subject, "/v1/data", limit, now)
		if errCheck != nil {
			t.Fatalf("check %d: %v", i+1, errCheck)
		}
		if !outcome.Allowed {
			t.Fatalf("request %d unexpectedly denied", i+1)
		}
		if want := limit.Requests - (i + 1); outcome.Remaining != want {
			t.Fatalf("request %d remaining = %d, want %d", i+1, outcome.Remaining, want)
		}
	}

	outcome, errCheck := counter.Check(context.Background(), subject, "/v1/data", limit, now)
	if errCheck != nil {
		t.Fatalf("check over limit: %v", errCheck)
	}
	if outcome.Allowed {
		t.Fatal("request over limit was allowed")
	}
	if outcome.Current != 3 {
		t.Fatalf("current = %d, want 3", outcome.Current)
	}
	if want := now.Add(time.Minute); !outcome.ResetAt.Equal(want) {
		t.Fatalf("reset at = %v, want %v", outcome.ResetAt, want)
	}
}

func TestWindowCounter_OldEntriesExpire(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	st := store.NewMemoryStore(func() time.Time { return current })
	counter := NewWindowCounter(st)
	subject := Subject{Kind: SubjectUser, Value: "u-1"}
	limit := AdaptiveLimit{Requests: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		if outcome, _ := counter.Check(context.Background(), subject, "/v1/data", limit, current); !outcome.Allowed {
			t.Fatalf("warmup request %d denied", i+1)
		}
	}
	if outcome, _ := counter.Check(context.Background(), subject, "/v1/data", limit, current); outcome.Allowed {
		t.Fatal("request at capacity was allowed")
	}

	current = current.Add(61 * time.Second)
	outcome, errCheck := counter.Check(context.Background(), subject, "/v1/data", limit, current)
	if errCheck != nil {
		t.Fatalf("check after expiry: %v", errCheck)
	}
	if !outcome.Allowed {
		t.Fatal("request after window expiry was denied")
	}
	if outcome.Current != 1 {
		t.Fatalf("current after expiry = %d, want 1", outcome.Current)
	}
}

func TestWindowCounter_ZeroLimitDenies(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	st := store.NewMemoryStore(func() time.Time { return now })
	counter := NewWindowCounter(st)
	subject := Subject{Kind: SubjectIP, Value: "10.0.0.2"}

	outcome, errCheck := counter.Check(context.Background(), subject, "/v1/data", AdaptiveLimit{Requests: 0, Window: time.Minute}, now)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if outcome.Allowed {
		t.Fatal("zero-budget request was allowed")
	}
}

func TestWindowCounter_EndpointsCountedSeparately(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	st := store.NewMemoryStore(func() time.Time { return now })
	counter := NewWindowCounter(st)
	subject := Subject{Kind: SubjectIP, Value: "10.0.0.3"}
	limit := AdaptiveLimit{Requests: 1, Window: time.Minute}

	if outcome, _ := counter.Check(context.Background(), subject, "/v1/a", limit, now); !outcome.Allowed {
		t.Fatal("first endpoint denied")
	}
	if outcome, _ := counter.Check(context.Background(), subject, "/v1/a", limit, now); outcome.Allowed {
		t.Fatal("first endpoint allowed over budget")
	}
	if outcome, _ := counter.Check(context.Background(), subject, "/v1/b", limit, now); !outcome.Allowed {
		t.Fatal("second endpoint shares the first endpoint's budget")
	}
}
