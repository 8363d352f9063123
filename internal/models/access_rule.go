package models

import "time"

// Access rule actions.
const (
	AccessRuleAllow = "allow"
	AccessRuleBlock = "block"
)

// AccessRule is a durable allow- or block-list entry for a subject. Rules
// are mirrored into the decision store on startup and on every change.
type AccessRule struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Kind  string `gorm:"type:text;not null;uniqueIndex:idx_access_rules_subject_action"` // Subject kind (ip, user, api_key, device, geo).
	Value string `gorm:"type:text;not null;uniqueIndex:idx_access_rules_subject_action"` // Subject identifier.

	Action string `gorm:"type:text;not null;uniqueIndex:idx_access_rules_subject_action"` // allow or block.
	Note   string `gorm:"type:text"`                                                      // Operator note.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
