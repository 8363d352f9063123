package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/store"
)

func burstConfig() config.BurstConfig {
	return config.BurstConfig{
		WindowSeconds:     10,
		Threshold:         20,
		MaxPenaltySeconds: 300,
	}
}

func TestBurstGuard_SpikeIsSuspicious(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := NewBurstGuard(burstConfig(), store.NewMemoryStore(func() time.Time { return now }))
	history := floodHistory(now, 50, 40*time.Millisecond, "/v1/data")

	assessment := guard.Evaluate(history, now)
	if !assessment.IsSuspicious {
		t.Fatal("50 requests in 2 seconds not flagged")
	}
	if assessment.SuspicionScore != 1.0 {
		t.Fatalf("score = %v, want 1.0 above twice the threshold", assessment.SuspicionScore)
	}
	if assessment.SuggestedDelay != 300*time.Second {
		t.Fatalf("delay = %v, want max penalty", assessment.SuggestedDelay)
	}
}

func TestBurstGuard_ScoreAtThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := NewBurstGuard(burstConfig(), store.NewMemoryStore(func() time.Time { return now }))
	history := floodHistory(now, 20, 100*time.Millisecond, "/v1/data")

	assessment := guard.Evaluate(history, now)
	if !assessment.IsSuspicious {
		t.Fatal("spike at the threshold not flagged")
	}
	if assessment.SuspicionScore != 0.5 {
		t.Fatalf("score = %v, want 0.5 at the threshold", assessment.SuspicionScore)
	}
	if assessment.SuggestedDelay != 150*time.Second {
		t.Fatalf("delay = %v, want half the max penalty", assessment.SuggestedDelay)
	}
}

func TestBurstGuard_BelowThresholdPasses(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := NewBurstGuard(burstConfig(), store.NewMemoryStore(func() time.Time { return now }))
	history := floodHistory(now, 19, 100*time.Millisecond, "/v1/data")

	if assessment := guard.Evaluate(history, now); assessment.IsSuspicious {
		t.Fatalf("19 requests flagged with score %v", assessment.SuspicionScore)
	}
}

func TestBurstGuard_OldTrafficOutsideWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := NewBurstGuard(burstConfig(), store.NewMemoryStore(func() time.Time { return now }))
	history := floodHistory(now.Add(-30*time.Second), 50, 40*time.Millisecond, "/v1/data")

	if assessment := guard.Evaluate(history, now); assessment.IsSuspicious {
		t.Fatal("spike outside the burst window flagged")
	}
}

func TestBurstGuard_PenaltyRoundTrip(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	st := store.NewMemoryStore(func() time.Time { return current })
	guard := NewBurstGuard(burstConfig(), st)
	subject := Subject{Kind: SubjectIP, Value: "10.0.0.9"}

	assessment := BurstAssessment{IsSuspicious: true, SuspicionScore: 0.5, SuggestedDelay: 150 * time.Second}
	applied, errApply := guard.Apply(context.Background(), subject, assessment, PatternIrregular, current)
	if errApply != nil {
		t.Fatalf("apply: %v", errApply)
	}
	if applied.DurationSeconds != 150 {
		t.Fatalf("duration = %d, want 150", applied.DurationSeconds)
	}

	record, active, errActive := guard.Active(context.Background(), subject, current)
	if errActive != nil {
		t.Fatalf("active: %v", errActive)
	}
	if !active {
		t.Fatal("penalty not active right after apply")
	}
	if record.Pattern != PatternIrregular {
		t.Fatalf("pattern = %q, want %q", record.Pattern, PatternIrregular)
	}

	current = current.Add(151 * time.Second)
	if _, active, _ := guard.Active(context.Background(), subject, current); active {
		t.Fatal("penalty still active after expiry")
	}
}
