package models

import "time"

// EndpointLimit is an operator-managed per-endpoint limit override. Enabled
// rows take precedence over the static configuration file.
type EndpointLimit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Endpoint string `gorm:"type:text;not null;uniqueIndex"` // Endpoint path the override applies to.

	Requests      int `gorm:"not null;default:0"` // Request budget per window.
	WindowSeconds int `gorm:"not null;default:0"` // Window length in seconds.
	Burst         int `gorm:"not null;default:0"` // Burst allowance.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the override is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
