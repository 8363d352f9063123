package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/models"
	"github.com/guardrailhq/guardrail/internal/ratelimit"
	"github.com/guardrailhq/guardrail/internal/security"
)

// Bootstrap environment variables for the first admin account.
const (
	EnvAdminUsername = "ADMIN_USERNAME"
	EnvAdminPassword = "ADMIN_PASSWORD"
)

const minAdminPasswordLength = 6

// ErrNoAdminConfigured indicates an empty admin table with no bootstrap
// credentials in the environment.
var ErrNoAdminConfigured = errors.New(
	"no admin account exists (set ADMIN_USERNAME and ADMIN_PASSWORD to create one)")

// EnsureAdmin creates the first admin account from the environment when the
// admin table is empty. An already-populated table is left untouched.
func EnsureAdmin(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("ensure admin: nil connection")
	}

	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("count admins: %w", errCount)
	}
	if count > 0 {
		return nil
	}

	username := strings.TrimSpace(os.Getenv(EnvAdminUsername))
	password := os.Getenv(EnvAdminPassword)
	if username == "" || password == "" {
		return ErrNoAdminConfigured
	}
	if len(password) < minAdminPasswordLength {
		return fmt.Errorf("admin password must be at least %d characters", minAdminPasswordLength)
	}
	return CreateAdminUser(conn, username, password)
}

// CreateAdminUser creates an active super admin account.
func CreateAdminUser(conn *gorm.DB, username, password string) error {
	hashedPassword, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}

	now := time.Now().UTC()
	admin := models.Admin{
		Username:     username,
		Password:     hashedPassword,
		Active:       true,
		IsSuperAdmin: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("create admin: %w", errCreate)
	}
	log.Infof("created admin account %q", username)
	return nil
}

// seedAccessRules replays persisted allow and block rules into the decision
// store so they survive store restarts.
func seedAccessRules(ctx context.Context, conn *gorm.DB, engine *ratelimit.Engine) error {
	var rules []models.AccessRule
	if errFind := conn.WithContext(ctx).Find(&rules).Error; errFind != nil {
		return fmt.Errorf("load access rules: %w", errFind)
	}
	for _, rule := range rules {
		subject, errSubject := ratelimit.NewSubject(ratelimit.SubjectKind(rule.Kind), rule.Value)
		if errSubject != nil {
			log.Warnf("skipping malformed access rule %d (%s:%s)", rule.ID, rule.Kind, rule.Value)
			continue
		}
		if errApply := engine.AddAccessRule(ctx, rule.Action, subject); errApply != nil {
			return fmt.Errorf("apply access rule %d: %w", rule.ID, errApply)
		}
	}
	if len(rules) > 0 {
		log.Infof("seeded %d access rules into the decision store", len(rules))
	}
	return nil
}
