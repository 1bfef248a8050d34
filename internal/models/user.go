package models

import "time"

// User represents a subscriber identified by their messenger account id.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TelegramID int64  `gorm:"not null;uniqueIndex"` // Stable external account id.
	Username   string `gorm:"type:text"`            // Optional handle.
	FullName   string `gorm:"type:text"`            // Display name.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
