package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/store"
)

// BurstGuard detects short high-intensity spikes independent of the longer
// sliding window and imposes a temporary penalty box.
type BurstGuard struct {
	cfg   config.BurstConfig
	store store.Store
}

// NewBurstGuard constructs a BurstGuard.
func NewBurstGuard(cfg config.BurstConfig, st store.Store) *BurstGuard {
	return &BurstGuard{cfg: cfg, store: st}
}

// Active returns the unexpired penalty record for a subject, if any.
func (g *BurstGuard) Active(ctx context.Context, subject Subject, now time.Time) (BurstRecord, bool, error) {
	value, ok, errGet := g.store.Get(ctx, burstKey(subject))
	if errGet != nil {
		return BurstRecord{}, false, errGet
	}
	if !ok {
		return BurstRecord{}, false, nil
	}
	var record BurstRecord
	if errUnmarshal := json.Unmarshal([]byte(value), &record); errUnmarshal != nil {
		return BurstRecord{}, false, nil
	}
	if !now.Before(record.ExpiresAt()) {
		return BurstRecord{}, false, nil
	}
	return record, true, nil
}

// Evaluate inspects recent history for a spike inside the short burst
// window. The suspicion score grows from 0.5 at the threshold to 1.0 at
// twice the threshold.
func (g *BurstGuard) Evaluate(history []store.Entry, now time.Time) BurstAssessment {
	if g.cfg.Threshold <= 0 {
		return BurstAssessment{}
	}
	cutoff := float64(now.Add(-time.Duration(g.cfg.WindowSeconds) * time.Second).UnixMilli())
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Score < cutoff {
			break
		}
		count++
	}
	if count < g.cfg.Threshold {
		return BurstAssessment{}
	}

	score := math.Min(1, float64(count)/float64(2*g.cfg.Threshold))
	maxPenalty := float64(g.cfg.MaxPenaltySeconds)
	delaySeconds := math.Min(maxPenalty, score*maxPenalty)
	return BurstAssessment{
		IsSuspicious:   true,
		SuspicionScore: score,
		SuggestedDelay: time.Duration(delaySeconds * float64(time.Second)),
	}
}

// Apply persists the penalty record so subsequent checks short-circuit.
func (g *BurstGuard) Apply(ctx context.Context, subject Subject, assessment BurstAssessment, pattern string, now time.Time) (BurstRecord, error) {
	record := BurstRecord{
		AppliedAt:       now,
		DurationSeconds: int(assessment.SuggestedDelay / time.Second),
		Reason:          string(ReasonBurstProtection),
		Pattern:         pattern,
	}
	if record.DurationSeconds < 1 {
		record.DurationSeconds = 1
	}
	payload, errMarshal := json.Marshal(record)
	if errMarshal != nil {
		return BurstRecord{}, errMarshal
	}
	ttl := time.Duration(record.DurationSeconds) * time.Second
	if errSet := g.store.Set(ctx, burstKey(subject), string(payload), ttl); errSet != nil {
		return BurstRecord{}, errSet
	}
	return record, nil
}
