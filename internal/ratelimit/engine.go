package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/settings"
	"github.com/guardrailhq/guardrail/internal/store"
)

// AuditSink receives security events emitted by the engine. Implementations
// must not block the decision path.
type AuditSink interface {
	LogEvent(event string, context map[string]any)
}

// Audit event names.
const (
	EventDenied         = "ratelimit.denied"
	EventDegraded       = "ratelimit.degraded"
	EventBurstTriggered = "burst.triggered"
	EventDDoSDetected   = "ddos.detected"
)

// Access rule actions accepted by AddAccessRule and RemoveAccessRule.
const (
	AccessAllow = "allow"
	AccessBlock = "block"
)

type noopAudit struct{}

func (noopAudit) LogEvent(string, map[string]any) {}

// Engine sequences the individual checks into one decision per request.
// Check never returns an error for a business denial; errors are reserved
// for invalid input.
type Engine struct {
	cfg      config.Config
	store    store.Store
	window   *WindowCounter
	resolver *Resolver
	burst    *BurstGuard
	detector *DDoSDetector
	quota    *QuotaManager
	audit    AuditSink
	nowFn    func() time.Time
}

// NewEngine constructs an Engine. audit, overrides, and nowFn may be nil.
func NewEngine(cfg config.Config, st store.Store, audit AuditSink, overrides OverrideLookup, nowFn func() time.Time) *Engine {
	if audit == nil {
		audit = noopAudit{}
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		window:   NewWindowCounter(st),
		resolver: NewResolver(cfg, overrides),
		burst:    NewBurstGuard(cfg.Burst, st),
		detector: NewDDoSDetector(cfg.DDoS),
		quota:    NewQuotaManager(cfg.Quota, st),
		audit:    audit,
		nowFn:    nowFn,
	}
}

// Check runs the full decision sequence for one request. The request is
// recorded into the subject's history regardless of the outcome, so later
// checks see the pressure a denied client keeps applying.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	if err := req.Subject.Validate(); err != nil {
		return Decision{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		endpoint = "/"
	}
	now := e.nowFn()

	ctx, cancel := context.WithTimeout(ctx, settings.StoreTimeout)
	defer cancel()
	defer func() { go e.recordObservation(req.Subject, endpoint, now) }()

	subjectID := req.Subject.String()

	whitelisted, errAllow := e.store.SetContains(ctx, allowListKey, subjectID)
	if errAllow != nil {
		return e.storeFailure(req, endpoint, errAllow, now), nil
	}
	if whitelisted {
		base := e.cfg.LimitFor(endpoint)
		return Decision{
			Allowed:    true,
			Reason:     ReasonWhitelisted,
			Limit:      base.Requests,
			Remaining:  base.Requests,
			ResetAt:    now.Add(base.Window()),
			TrustScore: settings.NeutralTrustScore,
		}, nil
	}

	blockedUntil, blocked, errBlock := e.blockRecord(ctx, req.Subject, now)
	if errBlock != nil {
		return e.storeFailure(req, endpoint, errBlock, now), nil
	}
	if !blocked {
		listed, errList := e.store.SetContains(ctx, blockListKey, subjectID)
		if errList != nil {
			return e.storeFailure(req, endpoint, errList, now), nil
		}
		blocked = listed
	}
	if blocked {
		retry := time.Duration(0)
		if !blockedUntil.IsZero() {
			retry = blockedUntil.Sub(now)
		}
		return e.deny(req, endpoint, ReasonIPBlocked, e.cfg.LimitFor(endpoint).Requests, retry, now, settings.NeutralTrustScore, nil), nil
	}

	profile := e.loadProfile(ctx, req.Subject, now)
	limit := e.resolver.Resolve(endpoint, profile, req.Context)

	history, errHist := e.store.SortedSetTail(ctx, historyKey(req.Subject), settings.HistoryLimit)
	if errHist != nil {
		return e.storeFailure(req, endpoint, errHist, now), nil
	}

	record, active, errActive := e.burst.Active(ctx, req.Subject, now)
	if errActive != nil {
		return e.storeFailure(req, endpoint, errActive, now), nil
	}
	if active {
		return e.deny(req, endpoint, ReasonBurstProtection, limit.Requests, record.ExpiresAt().Sub(now), now, profile.TrustScore, nil), nil
	}
	if assessment := e.burst.Evaluate(history, now); assessment.IsSuspicious {
		applied, errApply := e.burst.Apply(ctx, req.Subject, assessment, profile.Pattern, now)
		if errApply != nil {
			log.WithError(errApply).Warn("rate limit: persist burst penalty failed")
		}
		e.audit.LogEvent(EventBurstTriggered, map[string]any{
			"subject":         subjectID,
			"endpoint":        endpoint,
			"suspicion_score": assessment.SuspicionScore,
			"penalty_seconds": applied.DurationSeconds,
			"request_pattern": profile.Pattern,
		})
		return e.deny(req, endpoint, ReasonBurstProtection, limit.Requests, assessment.SuggestedDelay, now, profile.TrustScore, nil), nil
	}

	if req.Subject.Kind == SubjectIP {
		// The history tail is capped, so the volume signals count against
		// the store directly.
		volume, errVolume := e.store.SortedSetCountFrom(ctx, historyKey(req.Subject), float64(now.Add(-ddosWindow).UnixMilli()))
		if errVolume != nil {
			return e.storeFailure(req, endpoint, errVolume, now), nil
		}
		verdict := e.detector.Analyze(history, volume, req.Context, now)
		if verdict.IsDDoS {
			until := e.applyBlock(ctx, req.Subject, now)
			e.audit.LogEvent(EventDDoSDetected, map[string]any{
				"subject":         subjectID,
				"endpoint":        endpoint,
				"suspicion_score": verdict.SuspicionScore,
				"patterns":        verdict.PatternsDetected,
				"blocked_until":   until,
			})
			return e.deny(req, endpoint, ReasonDDoSDetected, limit.Requests, until.Sub(now), now, profile.TrustScore, map[string]any{"patterns": verdict.PatternsDetected}), nil
		}
	}

	if req.Subject.Kind == SubjectAPIKey {
		status, errQuota := e.quota.Check(ctx, req.Subject.Value, now)
		if errQuota != nil {
			return e.storeFailure(req, endpoint, errQuota, now), nil
		}
		if !status.Allowed {
			decision := e.deny(req, endpoint, ReasonQuotaExceeded, limit.Requests, PeriodEnd(now).Sub(now), now, profile.TrustScore, map[string]any{"period": status.PeriodKey, "used": status.Used})
			decision.ResetAt = PeriodEnd(now)
			return decision, nil
		}
	}

	outcome, errWindow := e.window.Check(ctx, req.Subject, endpoint, limit, now)
	if errWindow != nil {
		return e.storeFailure(req, endpoint, errWindow, now), nil
	}
	decision := Decision{
		Allowed:         outcome.Allowed,
		Reason:          ReasonOK,
		Limit:           limit.Requests,
		Remaining:       outcome.Remaining,
		CurrentRequests: outcome.Current,
		ResetAt:         outcome.ResetAt,
		TrustScore:      profile.TrustScore,
	}
	if !outcome.Allowed {
		decision.Reason = ReasonRateLimited
		decision.RetryAfter = outcome.ResetAt.Sub(now)
		if decision.RetryAfter < 0 {
			decision.RetryAfter = 0
		}
		e.auditDenied(req, endpoint, decision, nil)
		return decision, nil
	}

	if req.Subject.Kind == SubjectAPIKey {
		if errCommit := e.quota.Commit(ctx, req.Subject.Value, now); errCommit != nil {
			log.WithError(errCommit).Warn("rate limit: quota commit failed")
		}
	}
	return decision, nil
}

// AddAccessRule places a subject on the allow or block list.
func (e *Engine) AddAccessRule(ctx context.Context, action string, subject Subject) error {
	key, errKey := accessListKey(action)
	if errKey != nil {
		return errKey
	}
	if err := subject.Validate(); err != nil {
		return err
	}
	return e.store.SetAdd(ctx, key, subject.String())
}

// RemoveAccessRule removes a subject from the allow or block list.
func (e *Engine) RemoveAccessRule(ctx context.Context, action string, subject Subject) error {
	key, errKey := accessListKey(action)
	if errKey != nil {
		return errKey
	}
	if err := subject.Validate(); err != nil {
		return err
	}
	return e.store.SetRemove(ctx, key, subject.String())
}

// PingStore reports store reachability for health checks.
func (e *Engine) PingStore(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func accessListKey(action string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case AccessAllow:
		return allowListKey, nil
	case AccessBlock:
		return blockListKey, nil
	default:
		return "", fmt.Errorf("rate limit: unknown access action %q", action)
	}
}

// blockRecord reads the TTL-backed block entry. The stored value is the
// unix-second expiry, kept so denials can carry a retry hint.
func (e *Engine) blockRecord(ctx context.Context, subject Subject, now time.Time) (time.Time, bool, error) {
	value, ok, errGet := e.store.Get(ctx, blockKey(subject))
	if errGet != nil {
		return time.Time{}, false, errGet
	}
	if !ok {
		return time.Time{}, false, nil
	}
	unix, errParse := strconv.ParseInt(value, 10, 64)
	if errParse != nil {
		return time.Time{}, true, nil
	}
	until := time.Unix(unix, 0)
	if !now.Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// applyBlock persists a block record for the configured DDoS block window.
func (e *Engine) applyBlock(ctx context.Context, subject Subject, now time.Time) time.Time {
	until := now.Add(time.Duration(e.cfg.DDoS.BlockSeconds) * time.Second)
	value := strconv.FormatInt(until.Unix(), 10)
	if errSet := e.store.Set(ctx, blockKey(subject), value, until.Sub(now)); errSet != nil {
		log.WithError(errSet).Warn("rate limit: persist block record failed")
	}
	return until
}

// loadProfile reads the cached behavior profile, falling back to the
// neutral profile when the cache is cold or unreadable. Profiles are
// advisory, so a store error here degrades rather than fails the check.
func (e *Engine) loadProfile(ctx context.Context, subject Subject, now time.Time) Profile {
	value, ok, errGet := e.store.Get(ctx, profileKey(subject))
	if errGet != nil {
		log.WithError(errGet).Warn("rate limit: load profile failed")
		return NeutralProfile(now)
	}
	if !ok {
		return NeutralProfile(now)
	}
	var profile Profile
	if errUnmarshal := json.Unmarshal([]byte(value), &profile); errUnmarshal != nil {
		return NeutralProfile(now)
	}
	return profile
}

// recordObservation appends the request to the subject's history and
// refreshes the cached profile. Runs off the decision path; failures only
// cost profile freshness.
func (e *Engine) recordObservation(subject Subject, endpoint string, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), settings.StoreTimeout)
	defer cancel()

	key := historyKey(subject)
	member := historyMember(uuid.NewString(), endpoint)
	if errAdd := e.store.SortedSetAdd(ctx, key, member, float64(now.UnixMilli()), settings.HistoryTTL); errAdd != nil {
		log.WithError(errAdd).Debug("rate limit: record history failed")
		return
	}
	history, errTail := e.store.SortedSetTail(ctx, key, settings.HistoryLimit)
	if errTail != nil {
		return
	}
	profile := BuildProfile(history, now)
	payload, errMarshal := json.Marshal(profile)
	if errMarshal != nil {
		return
	}
	if errSet := e.store.Set(ctx, profileKey(subject), string(payload), settings.ProfileTTL); errSet != nil {
		log.WithError(errSet).Debug("rate limit: cache profile failed")
	}
}

// storeFailure converts an infrastructure error into a decision per the
// configured failure policy.
func (e *Engine) storeFailure(req CheckRequest, endpoint string, err error, now time.Time) Decision {
	log.WithError(err).Warn("rate limit: store unavailable")
	e.audit.LogEvent(EventDegraded, map[string]any{
		"subject":  req.Subject.String(),
		"endpoint": endpoint,
		"error":    err.Error(),
	})
	base := e.cfg.LimitFor(endpoint)
	if e.cfg.FailOpen {
		return Decision{
			Allowed:    true,
			Reason:     ReasonOK,
			Limit:      base.Requests,
			Remaining:  base.Requests,
			ResetAt:    now.Add(base.Window()),
			TrustScore: settings.NeutralTrustScore,
		}
	}
	return Decision{
		Reason:     ReasonStoreUnavailable,
		Limit:      base.Requests,
		ResetAt:    now.Add(base.Window()),
		RetryAfter: base.Window(),
		TrustScore: settings.NeutralTrustScore,
	}
}

// deny builds a denial decision and emits the audit event.
func (e *Engine) deny(req CheckRequest, endpoint string, reason Reason, limit int, retryAfter time.Duration, now time.Time, trust float64, extra map[string]any) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	decision := Decision{
		Reason:     reason,
		Limit:      limit,
		ResetAt:    now.Add(retryAfter),
		RetryAfter: retryAfter,
		TrustScore: trust,
	}
	e.auditDenied(req, endpoint, decision, extra)
	return decision
}

func (e *Engine) auditDenied(req CheckRequest, endpoint string, decision Decision, extra map[string]any) {
	fields := map[string]any{
		"subject":     req.Subject.String(),
		"endpoint":    endpoint,
		"reason":      string(decision.Reason),
		"retry_after": decision.RetryAfter.Seconds(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	e.audit.LogEvent(EventDenied, fields)
}
