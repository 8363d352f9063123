package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/guardrailhq/guardrail/internal/store"
)

// WindowOutcome reports one sliding-window check.
type WindowOutcome struct {
	Allowed   bool
	Current   int64
	Remaining int
	ResetAt   time.Time
}

// WindowCounter counts requests for a (subject, endpoint) pair inside a
// trailing window using a timestamp-ordered log. The prune, count, and
// insert run as one atomic store operation.
type WindowCounter struct {
	store store.Store
}

// NewWindowCounter constructs a WindowCounter.
func NewWindowCounter(st store.Store) *WindowCounter {
	return &WindowCounter{store: st}
}

// Check performs the atomic check-and-record for one request.
func (w *WindowCounter) Check(ctx context.Context, subject Subject, endpoint string, limit AdaptiveLimit, now time.Time) (WindowOutcome, error) {
	member := uuid.NewString()
	result, errEval := w.store.EvalWindowCheck(ctx, windowKey(subject, endpoint), int64(limit.Requests), limit.Window, member, now)
	if errEval != nil {
		return WindowOutcome{}, errEval
	}

	outcome := WindowOutcome{Allowed: result.Allowed, Current: result.Count}
	if result.Allowed {
		outcome.Remaining = limit.Requests - int(result.Count)
		if outcome.Remaining < 0 {
			outcome.Remaining = 0
		}
		outcome.ResetAt = now.Add(limit.Window)
		return outcome, nil
	}

	if result.OldestScore > 0 {
		outcome.ResetAt = time.UnixMilli(int64(result.OldestScore)).Add(limit.Window)
	} else {
		outcome.ResetAt = now.Add(limit.Window)
	}
	if outcome.ResetAt.Before(now) {
		outcome.ResetAt = now
	}
	return outcome, nil
}
