package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/store"
)

// QuotaManager tracks monthly allowances for API-key subjects, independent
// of the short-window limiter.
type QuotaManager struct {
	cfg   config.QuotaConfig
	store store.Store
}

// NewQuotaManager constructs a QuotaManager.
func NewQuotaManager(cfg config.QuotaConfig, st store.Store) *QuotaManager {
	return &QuotaManager{cfg: cfg, store: st}
}

// PeriodKey returns the UTC month key (YYYY-MM) the quota counts against.
func PeriodKey(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// Check reads the current period's usage without consuming it. A zero or
// negative configured limit disables quota enforcement.
func (m *QuotaManager) Check(ctx context.Context, apiKey string, now time.Time) (QuotaStatus, error) {
	status := QuotaStatus{
		PeriodKey: PeriodKey(now),
		Limit:     m.cfg.MonthlyRequests,
		Allowed:   true,
	}
	if status.Limit <= 0 {
		return status, nil
	}

	value, ok, errGet := m.store.Get(ctx, quotaKey(apiKey, status.PeriodKey))
	if errGet != nil {
		return QuotaStatus{}, errGet
	}
	if ok {
		used, errParse := strconv.ParseInt(value, 10, 64)
		if errParse == nil && used > 0 {
			status.Used = used
		}
	}
	status.Remaining = status.Limit - status.Used
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	status.Allowed = status.Used < status.Limit
	return status, nil
}

// Commit consumes one unit of the period's quota for an allowed request.
func (m *QuotaManager) Commit(ctx context.Context, apiKey string, now time.Time) error {
	if m.cfg.MonthlyRequests <= 0 {
		return nil
	}
	period := PeriodKey(now)
	_, errIncr := m.store.AtomicIncrement(ctx, quotaKey(apiKey, period), periodTTL(now))
	return errIncr
}

// PeriodEnd returns when the current UTC month's quota period rolls over.
func PeriodEnd(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// periodTTL spans from now to the end of the current UTC month plus a
// day of margin.
func periodTTL(now time.Time) time.Duration {
	return PeriodEnd(now).Sub(now.UTC()) + 24*time.Hour
}
