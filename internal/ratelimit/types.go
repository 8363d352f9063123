package ratelimit

import (
	"errors"
	"strings"
	"time"
)

// SubjectKind tags what a subject value identifies.
type SubjectKind string

const (
	SubjectIP     SubjectKind = "ip"
	SubjectUser   SubjectKind = "user"
	SubjectAPIKey SubjectKind = "api_key"
	SubjectDevice SubjectKind = "device"
	SubjectGeo    SubjectKind = "geo"
)

// ErrInvalidSubject indicates a malformed subject identifier.
var ErrInvalidSubject = errors.New("rate limit: invalid subject")

// ErrInvalidAPIKey indicates an empty or malformed API key subject.
var ErrInvalidAPIKey = errors.New("rate limit: invalid api key")

// Subject is a tagged identifier; immutable once constructed.
type Subject struct {
	Kind  SubjectKind
	Value string
}

// NewSubject constructs a validated Subject.
func NewSubject(kind SubjectKind, value string) (Subject, error) {
	s := Subject{Kind: kind, Value: strings.TrimSpace(value)}
	if err := s.Validate(); err != nil {
		return Subject{}, err
	}
	return s, nil
}

// Validate checks the subject against the caller contract.
func (s Subject) Validate() error {
	switch s.Kind {
	case SubjectIP, SubjectUser, SubjectDevice, SubjectGeo:
		if strings.TrimSpace(s.Value) == "" {
			return ErrInvalidSubject
		}
	case SubjectAPIKey:
		if strings.TrimSpace(s.Value) == "" {
			return ErrInvalidAPIKey
		}
	default:
		return ErrInvalidSubject
	}
	return nil
}

// String serializes the subject for store keys and audit context.
func (s Subject) String() string {
	return string(s.Kind) + ":" + s.Value
}

// Reason codes carried in a Decision. Business denials are values here,
// never errors.
type Reason string

const (
	ReasonOK               Reason = "OK"
	ReasonWhitelisted      Reason = "WHITELISTED"
	ReasonRateLimited      Reason = "RATE_LIMIT_EXCEEDED"
	ReasonQuotaExceeded    Reason = "QUOTA_EXCEEDED"
	ReasonBurstProtection  Reason = "BURST_PROTECTION"
	ReasonDDoSDetected     Reason = "DDOS_DETECTED"
	ReasonIPBlocked        Reason = "IP_BLOCKED"
	ReasonStoreUnavailable Reason = "STORE_UNAVAILABLE"
)

// RequestContext carries optional request attributes used by the resolver
// and the DDoS detector.
type RequestContext struct {
	Country    string
	DeviceRisk string
	UserAgent  string
}

// CheckRequest is the orchestrator input.
type CheckRequest struct {
	Subject  Subject
	Endpoint string
	Context  RequestContext
}

// Decision is the engine output. It is always returned; infrastructure
// failures are converted to a fail-open or fail-closed Decision internally.
type Decision struct {
	Allowed         bool
	Reason          Reason
	Limit           int
	Remaining       int
	CurrentRequests int64
	ResetAt         time.Time
	RetryAfter      time.Duration
	TrustScore      float64
}

// Profile is the per-subject derived behavior state.
type Profile struct {
	Samples       int       `json:"samples"`
	AvgIntervalMs float64   `json:"avg_interval_ms"`
	IntervalCV    float64   `json:"interval_cv"`
	Pattern       string    `json:"pattern"`
	AnomalyScore  float64   `json:"anomaly_score"`
	TrustScore    float64   `json:"trust_score"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Request pattern classifications.
const (
	PatternUnknown    = "unknown"
	PatternConsistent = "consistent"
	PatternModerate   = "moderate"
	PatternIrregular  = "irregular"
)

// AdaptiveLimit is the resolved budget for one check; computed fresh each
// call, never persisted.
type AdaptiveLimit struct {
	Requests   int
	Window     time.Duration
	Burst      int
	Multiplier float64
}

// DDoSAssessment is the detector verdict.
type DDoSAssessment struct {
	IsDDoS           bool
	SuspicionScore   float64
	PatternsDetected []string
}

// BurstAssessment is the burst guard verdict.
type BurstAssessment struct {
	IsSuspicious   bool
	SuspicionScore float64
	SuggestedDelay time.Duration
}

// BurstRecord is the persisted penalty state for a subject.
type BurstRecord struct {
	AppliedAt       time.Time `json:"applied_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Reason          string    `json:"reason"`
	Pattern         string    `json:"pattern"`
}

// ExpiresAt returns when the penalty lapses.
func (r BurstRecord) ExpiresAt() time.Time {
	return r.AppliedAt.Add(time.Duration(r.DurationSeconds) * time.Second)
}

// QuotaStatus reports period usage for an API key.
type QuotaStatus struct {
	PeriodKey string
	Limit     int64
	Used      int64
	Remaining int64
	Allowed   bool
}
