package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guardrailhq/guardrail/internal/settings"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiry     = "JWT_EXPIRY"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` in config file or DB_CONNECTION)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

// RedisConfig holds backing-store connection settings.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// LimitConfig describes a sliding-window budget.
type LimitConfig struct {
	Requests      int
	WindowSeconds int
	Burst         int
}

// Window returns the window length as a duration.
func (l LimitConfig) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// BurstConfig tunes the burst guard.
type BurstConfig struct {
	WindowSeconds     int
	Threshold         int
	MaxPenaltySeconds int
}

// QuotaConfig tunes the monthly quota manager.
type QuotaConfig struct {
	MonthlyRequests int64
}

// DDoSConfig tunes the DDoS detector.
type DDoSConfig struct {
	RequestThreshold  int
	MinEndpoints      int
	MinIntervalMillis int64
	BlockSeconds      int
}

// TrustMultipliers maps trust score bands to limit multipliers.
type TrustMultipliers struct {
	High     float64
	Elevated float64
	Normal   float64
	Reduced  float64
	Low      float64
}

// GeoRiskProfile pairs a qualitative risk level with a limit multiplier.
type GeoRiskProfile struct {
	RiskLevel  string
	Multiplier float64
}

// Config is the resolved, immutable service configuration. Load builds it
// once; components receive it by value and never mutate it.
type Config struct {
	DatabaseDSN string
	JWT         JWTConfig
	Redis       RedisConfig

	// FailOpen selects behavior when the backing store is unavailable:
	// true allows traffic through, false denies it.
	FailOpen bool

	DefaultLimit   LimitConfig
	EndpointLimits map[string]LimitConfig

	Burst BurstConfig
	Quota QuotaConfig
	DDoS  DDoSConfig

	Trust      TrustMultipliers
	GeoRisk    map[string]GeoRiskProfile
	DeviceRisk map[string]float64
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// fileLimit mirrors a limit block in YAML. Pointers distinguish "absent"
// from zero so a zero budget stays expressible.
type fileLimit struct {
	Requests      *int `yaml:"requests"`
	WindowSeconds *int `yaml:"window_seconds"`
	Burst         *int `yaml:"burst"`
}

type fileConfig struct {
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	JWT struct {
		Secret string        `yaml:"secret"`
		Expiry time.Duration `yaml:"expiry"`
	} `yaml:"jwt"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Security struct {
		FailOpen *bool `yaml:"fail_open"`
	} `yaml:"security"`
	Limits struct {
		Default   fileLimit            `yaml:"default"`
		Endpoints map[string]fileLimit `yaml:"endpoints"`
	} `yaml:"limits"`
	Burst struct {
		WindowSeconds     *int `yaml:"window_seconds"`
		Threshold         *int `yaml:"threshold"`
		MaxPenaltySeconds *int `yaml:"max_penalty_seconds"`
	} `yaml:"burst"`
	Quota struct {
		MonthlyRequests *int64 `yaml:"monthly_requests"`
	} `yaml:"quota"`
	DDoS struct {
		RequestThreshold  *int   `yaml:"request_threshold"`
		MinEndpoints      *int   `yaml:"min_endpoints"`
		MinIntervalMillis *int64 `yaml:"min_interval_ms"`
		BlockSeconds      *int   `yaml:"block_seconds"`
	} `yaml:"ddos"`
	Trust struct {
		High     *float64 `yaml:"high"`
		Elevated *float64 `yaml:"elevated"`
		Normal   *float64 `yaml:"normal"`
		Reduced  *float64 `yaml:"reduced"`
		Low      *float64 `yaml:"low"`
	} `yaml:"trust_multipliers"`
	GeoRisk map[string]struct {
		RiskLevel  string  `yaml:"risk_level"`
		Multiplier float64 `yaml:"multiplier"`
	} `yaml:"geo_risk"`
	DeviceRisk map[string]float64 `yaml:"device_risk"`
}

// Load reads the YAML config file, applies defaults and env overrides, and
// returns the resolved configuration. A missing file is not an error as long
// as DB_CONNECTION provides the DSN.
func Load(configPath string) (Config, error) {
	var raw fileConfig
	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &raw); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}

	cfg := Config{
		DatabaseDSN: strings.TrimSpace(raw.DatabaseDSN),
		JWT: JWTConfig{
			Secret: strings.TrimSpace(raw.JWT.Secret),
			Expiry: raw.JWT.Expiry,
		},
		Redis: RedisConfig{
			Enabled:  raw.Redis.Enabled,
			Addr:     strings.TrimSpace(raw.Redis.Addr),
			Password: raw.Redis.Password,
			DB:       raw.Redis.DB,
			Prefix:   strings.TrimSpace(raw.Redis.Prefix),
		},
		FailOpen: true,
		DefaultLimit: LimitConfig{
			Requests:      settings.DefaultWindowRequests,
			WindowSeconds: settings.DefaultWindowSeconds,
			Burst:         settings.DefaultBurstThreshold,
		},
		Burst: BurstConfig{
			WindowSeconds:     settings.DefaultBurstWindowSeconds,
			Threshold:         settings.DefaultBurstThreshold,
			MaxPenaltySeconds: settings.DefaultBurstMaxPenaltySeconds,
		},
		Quota: QuotaConfig{MonthlyRequests: settings.DefaultMonthlyQuota},
		DDoS: DDoSConfig{
			RequestThreshold:  settings.DefaultDDoSRequestThreshold,
			MinEndpoints:      settings.DefaultDDoSMinEndpoints,
			MinIntervalMillis: settings.DefaultDDoSMinIntervalMillis,
			BlockSeconds:      settings.DefaultDDoSBlockSeconds,
		},
		Trust: TrustMultipliers{High: 2.0, Elevated: 1.5, Normal: 1.0, Reduced: 0.7, Low: 0.3},
	}

	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = strings.TrimSpace(raw.Database.DSN)
	}
	if raw.Security.FailOpen != nil {
		cfg.FailOpen = *raw.Security.FailOpen
	}
	applyLimit(&cfg.DefaultLimit, raw.Limits.Default)
	if len(raw.Limits.Endpoints) > 0 {
		cfg.EndpointLimits = make(map[string]LimitConfig, len(raw.Limits.Endpoints))
		for endpoint, limit := range raw.Limits.Endpoints {
			resolved := cfg.DefaultLimit
			applyLimit(&resolved, limit)
			cfg.EndpointLimits[strings.TrimSpace(endpoint)] = resolved
		}
	}
	if raw.Burst.WindowSeconds != nil && *raw.Burst.WindowSeconds > 0 {
		cfg.Burst.WindowSeconds = *raw.Burst.WindowSeconds
	}
	if raw.Burst.Threshold != nil && *raw.Burst.Threshold > 0 {
		cfg.Burst.Threshold = *raw.Burst.Threshold
	}
	if raw.Burst.MaxPenaltySeconds != nil && *raw.Burst.MaxPenaltySeconds > 0 {
		cfg.Burst.MaxPenaltySeconds = *raw.Burst.MaxPenaltySeconds
	}
	if raw.Quota.MonthlyRequests != nil && *raw.Quota.MonthlyRequests >= 0 {
		cfg.Quota.MonthlyRequests = *raw.Quota.MonthlyRequests
	}
	if raw.DDoS.RequestThreshold != nil && *raw.DDoS.RequestThreshold > 0 {
		cfg.DDoS.RequestThreshold = *raw.DDoS.RequestThreshold
	}
	if raw.DDoS.MinEndpoints != nil && *raw.DDoS.MinEndpoints > 0 {
		cfg.DDoS.MinEndpoints = *raw.DDoS.MinEndpoints
	}
	if raw.DDoS.MinIntervalMillis != nil && *raw.DDoS.MinIntervalMillis > 0 {
		cfg.DDoS.MinIntervalMillis = *raw.DDoS.MinIntervalMillis
	}
	if raw.DDoS.BlockSeconds != nil && *raw.DDoS.BlockSeconds > 0 {
		cfg.DDoS.BlockSeconds = *raw.DDoS.BlockSeconds
	}
	applyMultiplier(&cfg.Trust.High, raw.Trust.High)
	applyMultiplier(&cfg.Trust.Elevated, raw.Trust.Elevated)
	applyMultiplier(&cfg.Trust.Normal, raw.Trust.Normal)
	applyMultiplier(&cfg.Trust.Reduced, raw.Trust.Reduced)
	applyMultiplier(&cfg.Trust.Low, raw.Trust.Low)
	if len(raw.GeoRisk) > 0 {
		cfg.GeoRisk = make(map[string]GeoRiskProfile, len(raw.GeoRisk))
		for country, profile := range raw.GeoRisk {
			cfg.GeoRisk[strings.ToUpper(strings.TrimSpace(country))] = GeoRiskProfile{
				RiskLevel:  strings.ToLower(strings.TrimSpace(profile.RiskLevel)),
				Multiplier: profile.Multiplier,
			}
		}
	}
	if len(raw.DeviceRisk) > 0 {
		cfg.DeviceRisk = make(map[string]float64, len(raw.DeviceRisk))
		for level, mult := range raw.DeviceRisk {
			cfg.DeviceRisk[strings.ToLower(strings.TrimSpace(level))] = mult
		}
	}

	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if password := os.Getenv(EnvRedisPassword); password != "" {
		cfg.Redis.Password = password
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}

	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = settings.DefaultRedisPrefix
	}
	if cfg.Redis.DB < 0 {
		cfg.Redis.DB = 0
	}
	if cfg.DatabaseDSN == "" {
		return Config{}, ErrMissingDatabaseDSN
	}
	return cfg, nil
}

// LimitFor returns the effective static limit for an endpoint.
func (c Config) LimitFor(endpoint string) LimitConfig {
	if limit, ok := c.EndpointLimits[endpoint]; ok {
		return limit
	}
	return c.DefaultLimit
}

func applyLimit(dst *LimitConfig, src fileLimit) {
	if src.Requests != nil && *src.Requests >= 0 {
		dst.Requests = *src.Requests
	}
	if src.WindowSeconds != nil && *src.WindowSeconds > 0 {
		dst.WindowSeconds = *src.WindowSeconds
	}
	if src.Burst != nil && *src.Burst > 0 {
		dst.Burst = *src.Burst
	}
}

func applyMultiplier(dst *float64, src *float64) {
	if src != nil && *src > 0 {
		*dst = *src
	}
}
