package models

import "time"

// Identifier is a pre-provisioned client credential bound to one server.
// An identifier is used if and only if TelegramID is set.
type Identifier struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UUID   string `gorm:"type:varchar(64);not null;uniqueIndex"`                       // Credential value, unique across all servers.
	Server string `gorm:"type:varchar(64);not null;index:idx_identifiers_server_used"` // Owning server name.
	IsUsed bool   `gorm:"not null;default:false;index:idx_identifiers_server_used"`    // Whether the identifier is assigned.

	TelegramID *int64     `gorm:"index"`              // Owning user, nil while free.
	AssignedAt *time.Time `gorm:"column:assigned_at"` // Time of the current assignment.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
