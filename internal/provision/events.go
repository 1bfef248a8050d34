package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/syntaxvpn/vpnpool/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventLog persists every payment event delivery and its outcome.
type EventLog struct {
	db *gorm.DB
}

// NewEventLog constructs an EventLog.
func NewEventLog(conn *gorm.DB) *EventLog {
	return &EventLog{db: conn}
}

// Record stores a delivery of ev. Redeliveries bump the counter and report
// first=false.
func (l *EventLog) Record(ctx context.Context, ev Event) (first bool, err error) {
	eventID := strings.TrimSpace(ev.EventID)
	if l == nil || l.db == nil || eventID == "" {
		return true, nil
	}
	row := models.PaymentEvent{
		EventID:    eventID,
		TelegramID: ev.TelegramID,
		PlanID:     ev.PlanID,
		Status:     models.PaymentEventReceived,
		Deliveries: 1,
	}
	if len(ev.Payload) > 0 {
		row.Payload = datatypes.JSON(ev.Payload)
	}
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("provision: record event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if errBump := l.db.WithContext(ctx).Model(&models.PaymentEvent{}).
		Where("event_id = ?", eventID).
		UpdateColumn("deliveries", gorm.Expr("deliveries + 1")).Error; errBump != nil {
		return false, fmt.Errorf("provision: bump event deliveries: %w", errBump)
	}
	return false, nil
}

// Finish stores the outcome of an event.
func (l *EventLog) Finish(ctx context.Context, eventID string, kind Kind) error {
	eventID = strings.TrimSpace(eventID)
	if l == nil || l.db == nil || eventID == "" {
		return nil
	}
	status := models.PaymentEventFailed
	reason := string(kind)
	if kind == KindProvisioned || kind == KindDuplicate {
		status = models.PaymentEventProvisioned
		reason = ""
	}
	if errUpdate := l.db.WithContext(ctx).Model(&models.PaymentEvent{}).
		Where("event_id = ? AND status <> ?", eventID, models.PaymentEventProvisioned).
		Updates(map[string]any{"status": status, "reason": reason}).Error; errUpdate != nil {
		return fmt.Errorf("provision: finish event: %w", errUpdate)
	}
	return nil
}

// Get returns the stored event, or nil.
func (l *EventLog) Get(ctx context.Context, eventID string) (*models.PaymentEvent, error) {
	var rows []models.PaymentEvent
	if errFind := l.db.WithContext(ctx).Where("event_id = ?", eventID).Limit(1).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("provision: get event: %w", errFind)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
