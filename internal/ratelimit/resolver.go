package ratelimit

import (
	"math"
	"strings"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/settings"
)

// OverrideLookup supplies dynamic endpoint limit overrides; returns false
// when no override exists.
type OverrideLookup func(endpoint string) (config.LimitConfig, bool)

// Resolver combines the configured base limit, the trust multiplier, and
// context multipliers into the effective limit for one check.
type Resolver struct {
	cfg       config.Config
	overrides OverrideLookup
}

// NewResolver constructs a Resolver. overrides may be nil.
func NewResolver(cfg config.Config, overrides OverrideLookup) *Resolver {
	return &Resolver{cfg: cfg, overrides: overrides}
}

// Resolve computes the adaptive limit for an endpoint and profile.
func (r *Resolver) Resolve(endpoint string, profile Profile, reqCtx RequestContext) AdaptiveLimit {
	base := r.cfg.LimitFor(endpoint)
	if r.overrides != nil {
		if override, ok := r.overrides(endpoint); ok {
			base = override
		}
	}

	multiplier := r.TrustMultiplier(profile.TrustScore) *
		behaviorMultiplier(profile) *
		r.geoMultiplier(reqCtx.Country) *
		r.deviceMultiplier(reqCtx.DeviceRisk)
	if multiplier < settings.MinCombinedMultiplier {
		multiplier = settings.MinCombinedMultiplier
	}
	if multiplier > settings.MaxCombinedMultiplier {
		multiplier = settings.MaxCombinedMultiplier
	}

	return AdaptiveLimit{
		Requests:   scaleBudget(base.Requests, multiplier),
		Window:     base.Window(),
		Burst:      scaleBudget(base.Burst, multiplier),
		Multiplier: multiplier,
	}
}

// TrustMultiplier maps a trust score onto the configured step function.
// Monotonically non-decreasing in the score.
func (r *Resolver) TrustMultiplier(score float64) float64 {
	switch {
	case score >= 0.9:
		return r.cfg.Trust.High
	case score >= 0.7:
		return r.cfg.Trust.Elevated
	case score >= 0.5:
		return r.cfg.Trust.Normal
	case score >= 0.3:
		return r.cfg.Trust.Reduced
	default:
		return r.cfg.Trust.Low
	}
}

// behaviorMultiplier penalizes high anomaly and rewards consistent patterns.
func behaviorMultiplier(profile Profile) float64 {
	m := 1.0
	switch {
	case profile.AnomalyScore > 0.8:
		m = 0.5
	case profile.AnomalyScore > 0.6:
		m = 0.75
	}
	if profile.Pattern == PatternConsistent {
		m *= 1.1
	}
	return m
}

// geoMultiplier applies the country risk table; unknown countries get a
// conservative default, absent context gets no adjustment.
func (r *Resolver) geoMultiplier(country string) float64 {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return 1.0
	}
	if profile, ok := r.cfg.GeoRisk[country]; ok && profile.Multiplier > 0 {
		return profile.Multiplier
	}
	return settings.UnknownGeoRiskMultiplier
}

// deviceMultiplier applies the device risk table when context is present.
func (r *Resolver) deviceMultiplier(level string) float64 {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return 1.0
	}
	if multiplier, ok := r.cfg.DeviceRisk[level]; ok && multiplier > 0 {
		return multiplier
	}
	return 1.0
}

// scaleBudget applies the multiplier, keeping nonzero budgets at >= 1.
func scaleBudget(base int, multiplier float64) int {
	if base <= 0 {
		return 0
	}
	scaled := int(math.Round(float64(base) * multiplier))
	if scaled < 1 {
		return 1
	}
	return scaled
}
