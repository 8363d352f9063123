package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/db"
	"github.com/guardrailhq/guardrail/internal/models"
	"github.com/guardrailhq/guardrail/internal/ratelimit"
	"github.com/guardrailhq/guardrail/internal/store"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(filepath.Join(t.TempDir(), "app.db"))
	if errOpen != nil {
		t.Fatalf("open: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestEnsureAdmin_CreatesFromEnv(t *testing.T) {
	conn := newTestDB(t)
	t.Setenv(EnvAdminUsername, "root")
	t.Setenv(EnvAdminPassword, "hunter22")

	if errEnsure := EnsureAdmin(conn); errEnsure != nil {
		t.Fatalf("ensure: %v", errEnsure)
	}

	var admin models.Admin
	if errFind := conn.Where("username = ?", "root").First(&admin).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if !admin.Active || !admin.IsSuperAdmin {
		t.Fatalf("admin = %+v", admin)
	}
	if admin.Password == "hunter22" {
		t.Fatal("password stored in plaintext")
	}

	// A populated table is left alone even with env credentials set.
	t.Setenv(EnvAdminPassword, "different")
	if errEnsure := EnsureAdmin(conn); errEnsure != nil {
		t.Fatalf("second ensure: %v", errEnsure)
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("admin count = %d, want 1", count)
	}
}

func TestEnsureAdmin_FailsWithoutCredentials(t *testing.T) {
	conn := newTestDB(t)
	t.Setenv(EnvAdminUsername, "")
	t.Setenv(EnvAdminPassword, "")

	if errEnsure := EnsureAdmin(conn); !errors.Is(errEnsure, ErrNoAdminConfigured) {
		t.Fatalf("err = %v, want ErrNoAdminConfigured", errEnsure)
	}
}

func TestEnsureAdmin_RejectsShortPassword(t *testing.T) {
	conn := newTestDB(t)
	t.Setenv(EnvAdminUsername, "root")
	t.Setenv(EnvAdminPassword, "abc")

	if errEnsure := EnsureAdmin(conn); errEnsure == nil {
		t.Fatal("expected error for short password")
	}
}

func TestSeedAccessRules_AppliesStoredRules(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()

	rules := []models.AccessRule{
		{Kind: "ip", Value: "203.0.113.9", Action: models.AccessRuleBlock},
		{Kind: "api_key", Value: "trusted-key", Action: models.AccessRuleAllow},
	}
	for i := range rules {
		if errCreate := conn.Create(&rules[i]).Error; errCreate != nil {
			t.Fatalf("seed rule: %v", errCreate)
		}
	}

	cfg := config.Config{
		FailOpen:     true,
		DefaultLimit: config.LimitConfig{Requests: 5, WindowSeconds: 60, Burst: 3},
		Burst:        config.BurstConfig{WindowSeconds: 10, Threshold: 50, MaxPenaltySeconds: 300},
		DDoS:         config.DDoSConfig{RequestThreshold: 1000, MinEndpoints: 3, MinIntervalMillis: 100, BlockSeconds: 900},
		Trust:        config.TrustMultipliers{High: 2.0, Elevated: 1.5, Normal: 1.0, Reduced: 0.7, Low: 0.3},
	}
	engine := ratelimit.NewEngine(cfg, store.NewMemoryStore(nil), nil, nil, nil)

	if errSeed := seedAccessRules(ctx, conn, engine); errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	blocked, errCheck := engine.Check(ctx, ratelimit.CheckRequest{
		Subject:  ratelimit.Subject{Kind: ratelimit.SubjectIP, Value: "203.0.113.9"},
		Endpoint: "/v1/data",
	})
	if errCheck != nil {
		t.Fatalf("check blocked: %v", errCheck)
	}
	if blocked.Allowed || blocked.Reason != ratelimit.ReasonIPBlocked {
		t.Fatalf("decision = %+v, want blocked", blocked)
	}

	allowed, errCheck := engine.Check(ctx, ratelimit.CheckRequest{
		Subject:  ratelimit.Subject{Kind: ratelimit.SubjectAPIKey, Value: "trusted-key"},
		Endpoint: "/v1/data",
	})
	if errCheck != nil {
		t.Fatalf("check allowed: %v", errCheck)
	}
	if !allowed.Allowed || allowed.Reason != ratelimit.ReasonWhitelisted {
		t.Fatalf("decision = %+v, want whitelisted", allowed)
	}
}
