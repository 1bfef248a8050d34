// Package ledger records user subscriptions and keeps at most one active
// subscription per user.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/db"
	"github.com/syntaxvpn/vpnpool/internal/models"
	"github.com/syntaxvpn/vpnpool/internal/plans"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrConflictingState is returned when an activation would leave a user
	// with more than one active subscription.
	ErrConflictingState = errors.New("ledger: conflicting subscription state")
	// ErrDuplicateEvent is returned when a subscription already exists for the event.
	ErrDuplicateEvent = errors.New("ledger: event already recorded")
)

// Activation describes a new subscription period.
type Activation struct {
	TelegramID int64
	PlanID     string
	UUID       string
	Server     string
	Link       string
	EventID    string
}

// Ledger is the subscription store.
type Ledger struct {
	db    *gorm.DB
	plans *plans.Catalogue
	now   func() time.Time
}

// New constructs a Ledger. Durations come from catalogue.
func New(conn *gorm.DB, catalogue *plans.Catalogue) *Ledger {
	return &Ledger{db: conn, plans: catalogue, now: time.Now}
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// ActiveSubscription returns the user's active row, or nil when there is none.
// The row may be past its end date; callers compare EndDate with the clock.
func (l *Ledger) ActiveSubscription(ctx context.Context, telegramID int64) (*models.Subscription, error) {
	var sub models.Subscription
	errFind := l.db.WithContext(ctx).
		Where("telegram_id = ? AND is_active = ?", telegramID, true).
		Order("id DESC").
		Take(&sub).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: active subscription: %w", errFind)
	}
	return &sub, nil
}

// Renewal is the outcome of an activation.
type Renewal struct {
	Subscription *models.Subscription
	// Superseded holds the rows this activation deactivated, as they were
	// before the update.
	Superseded []models.Subscription
}

// Activate deactivates the user's current subscription and records a new
// active one ending now + plan duration, atomically.
func (l *Ledger) Activate(ctx context.Context, a Activation) (*models.Subscription, error) {
	r, err := l.Renew(ctx, a)
	return r.Subscription, err
}

// Renew is Activate that also reports the rows it deactivated. On PostgreSQL
// the user row is locked first so activations for one user run one at a time.
func (l *Ledger) Renew(ctx context.Context, a Activation) (Renewal, error) {
	if l == nil || l.db == nil {
		return Renewal{}, fmt.Errorf("ledger: not initialized")
	}
	if strings.TrimSpace(a.UUID) == "" {
		return Renewal{}, fmt.Errorf("ledger: identifier is required")
	}

	start := l.now().UTC()
	sub := models.Subscription{
		TelegramID: a.TelegramID,
		PlanID:     a.PlanID,
		UUID:       a.UUID,
		Server:     a.Server,
		Link:       a.Link,
		StartDate:  start,
		EndDate:    start.Add(l.plans.DurationOrDefault(a.PlanID)),
		IsActive:   true,
	}
	if eventID := strings.TrimSpace(a.EventID); eventID != "" {
		sub.EventID = &eventID
	}

	var superseded []models.Subscription
	errTx := db.Retry(ctx, func(ctx context.Context) error {
		superseded = nil
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			active := tx.Where("telegram_id = ? AND is_active = ?", a.TelegramID, true)
			if db.SupportsRowLocks(tx) {
				var owner []models.User
				if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					Where("telegram_id = ?", a.TelegramID).
					Find(&owner).Error; errLock != nil {
					return errLock
				}
				active = active.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			if errFind := active.Order("id").Find(&superseded).Error; errFind != nil {
				return errFind
			}
			if len(superseded) > 0 {
				ids := make([]uint64, 0, len(superseded))
				for _, row := range superseded {
					ids = append(ids, row.ID)
				}
				if errDeactivate := tx.Model(&models.Subscription{}).
					Where("id IN ?", ids).
					Update("is_active", false).Error; errDeactivate != nil {
					return errDeactivate
				}
			}
			sub.ID = 0
			return tx.Create(&sub).Error
		})
	})
	if errTx != nil {
		if db.IsUniqueViolation(errTx) {
			if sub.EventID != nil {
				if existing, _ := l.ByEvent(ctx, *sub.EventID); existing != nil {
					return Renewal{Subscription: existing}, ErrDuplicateEvent
				}
			}
			return Renewal{}, ErrConflictingState
		}
		return Renewal{}, fmt.Errorf("ledger: activate: %w", errTx)
	}
	return Renewal{Subscription: &sub, Superseded: superseded}, nil
}

// ByIdentifier returns the most recent subscription that used value.
func (l *Ledger) ByIdentifier(ctx context.Context, value string) (*models.Subscription, error) {
	var sub models.Subscription
	errFind := l.db.WithContext(ctx).
		Where("uuid = ?", strings.TrimSpace(value)).
		Order("id DESC").
		Take(&sub).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: by identifier: %w", errFind)
	}
	return &sub, nil
}

// ByEvent returns the subscription created for a payment event.
func (l *Ledger) ByEvent(ctx context.Context, eventID string) (*models.Subscription, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, nil
	}
	var sub models.Subscription
	errFind := l.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&sub).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: by event: %w", errFind)
	}
	return &sub, nil
}

// History lists every subscription of a user, newest first.
func (l *Ledger) History(ctx context.Context, telegramID int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	if errFind := l.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		Order("id DESC").
		Find(&subs).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: history: %w", errFind)
	}
	return subs, nil
}
