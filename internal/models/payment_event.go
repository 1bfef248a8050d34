package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentEventStatus is the processing outcome of a payment event.
type PaymentEventStatus string

// PaymentEventStatus values.
const (
	// PaymentEventReceived marks an event accepted but not yet processed.
	PaymentEventReceived PaymentEventStatus = "received"
	// PaymentEventProvisioned marks an event that produced a subscription.
	PaymentEventProvisioned PaymentEventStatus = "provisioned"
	// PaymentEventFailed marks an event whose provisioning failed.
	PaymentEventFailed PaymentEventStatus = "failed"
)

// PaymentEvent is the delivery log of payment confirmations.
type PaymentEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID    string             `gorm:"type:varchar(128);not null;uniqueIndex"` // Payment provider event id.
	TelegramID int64              `gorm:"not null;index"`                         // Paying user.
	PlanID     string             `gorm:"type:varchar(64);not null"`              // Purchased plan.
	Status     PaymentEventStatus `gorm:"type:varchar(32);not null"`              // Processing outcome.
	Reason     string             `gorm:"type:text"`                              // Failure kind, if any.
	Deliveries int                `gorm:"not null;default:1"`                     // Number of times the event was delivered.
	Payload    datatypes.JSON     // Raw webhook body.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
