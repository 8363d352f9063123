package db

import (
	"fmt"

	"github.com/guardrailhq/guardrail/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations and creates the supporting indexes.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.EndpointLimit{},
		&models.AccessRule{},
		&models.SecurityEvent{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_security_events_event_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_security_events_event_created_at
				ON security_events (event, created_at DESC)
			`,
		},
		{
			name: "idx_security_events_subject_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_security_events_subject_created_at
				ON security_events (subject, created_at DESC)
			`,
		},
		{
			name: "idx_endpoint_limits_enabled_endpoint",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_endpoint_limits_enabled_endpoint
				ON endpoint_limits (endpoint)
				WHERE is_enabled = true
			`,
		},
		{
			name: "idx_access_rules_action_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_access_rules_action_created_at
				ON access_rules (action, created_at DESC)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}
