package settings

import "time"

// Engine defaults applied when the config file omits a value.
const (
	// DefaultWindowRequests is the fallback request budget per window.
	DefaultWindowRequests = 100
	// DefaultWindowSeconds is the fallback window length in seconds.
	DefaultWindowSeconds = 60
	// DefaultBurstThreshold is the fallback burst trigger count.
	DefaultBurstThreshold = 20
	// DefaultBurstWindowSeconds is the short window the burst guard inspects.
	DefaultBurstWindowSeconds = 10
	// DefaultBurstMaxPenaltySeconds caps burst penalty duration.
	DefaultBurstMaxPenaltySeconds = 300
	// DefaultMonthlyQuota is the fallback monthly request quota for API keys.
	DefaultMonthlyQuota = 100000
	// DefaultDDoSRequestThreshold is the 5-minute request count trigger.
	DefaultDDoSRequestThreshold = 1000
	// DefaultDDoSMinEndpoints is the endpoint diversity floor under high volume.
	DefaultDDoSMinEndpoints = 3
	// DefaultDDoSMinIntervalMillis flags machine-speed request timing.
	DefaultDDoSMinIntervalMillis = 100
	// DefaultDDoSBlockSeconds is how long a detected source stays blocked.
	DefaultDDoSBlockSeconds = 900
	// DefaultRedisPrefix is the fallback Redis key prefix.
	DefaultRedisPrefix = "grl"
	// UnknownGeoRiskLevel is assigned to countries absent from the risk table.
	UnknownGeoRiskLevel = "medium"
	// UnknownGeoRiskMultiplier is the conservative multiplier for unknown countries.
	UnknownGeoRiskMultiplier = 0.8
)

// Profiling and history limits.
const (
	// HistoryLimit caps how many request records feed the profiler.
	HistoryLimit = 100
	// HistoryMinSamples is the minimum history size for a real profile.
	HistoryMinSamples = 3
	// HistoryTTL bounds how long idle subject history survives.
	HistoryTTL = 15 * time.Minute
	// ProfileTTL bounds how long a cached behavior profile survives.
	ProfileTTL = 10 * time.Minute
	// NeutralTrustScore is assigned to subjects without enough history.
	NeutralTrustScore = 0.5
)

// Multiplier clamps for adaptive limit resolution.
const (
	// MinCombinedMultiplier floors the combined adaptive multiplier.
	MinCombinedMultiplier = 0.1
	// MaxCombinedMultiplier caps the combined adaptive multiplier.
	MaxCombinedMultiplier = 3.0
)

// StoreTimeout bounds the store round trips of one check. The decision
// path sits in front of every request, so a slow store fails the check
// over (fail-open or fail-closed) rather than stalling the caller.
const StoreTimeout = 50 * time.Millisecond
