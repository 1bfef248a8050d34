package models

import "time"

// Subscription records one paid period for a user.
// At most one row per user has IsActive set.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TelegramID int64   `gorm:"not null;index"`                       // Owning user.
	PlanID     string  `gorm:"type:varchar(64);not null"`            // Purchased plan.
	UUID       string  `gorm:"type:varchar(64);not null;index"`      // Assigned identifier.
	Server     string  `gorm:"type:varchar(64);not null"`            // Server the identifier belongs to.
	Link       string  `gorm:"column:vless_link;type:text;not null"` // Connection material handed to the client.
	EventID    *string `gorm:"type:varchar(128);uniqueIndex"`        // Payment event that created the row.

	StartDate time.Time `gorm:"not null"`       // Period start.
	EndDate   time.Time `gorm:"not null;index"` // Period end.
	IsActive  bool      `gorm:"not null;index"` // Current subscription flag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Live reports whether the subscription is active and unexpired at now.
func (s *Subscription) Live(now time.Time) bool {
	return s != nil && s.IsActive && s.EndDate.After(now)
}
