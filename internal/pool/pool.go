// Package pool manages the per-server set of pre-provisioned client identifiers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/db"
	"github.com/syntaxvpn/vpnpool/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrAlreadyAssigned is returned when an identifier is held by another user.
	ErrAlreadyAssigned = errors.New("pool: identifier already assigned")
	// ErrPoolExhausted is returned when a server has no free identifiers.
	ErrPoolExhausted = errors.New("pool: no free identifiers")
	// ErrNotFound is returned for identifiers that were never loaded.
	ErrNotFound = errors.New("pool: identifier not found")
)

const loadBatchSize = 500

// Pool is the identifier store backed by gorm.
type Pool struct {
	db  *gorm.DB
	now func() time.Time
}

// New constructs a Pool.
func New(conn *gorm.DB) *Pool {
	return &Pool{db: conn, now: time.Now}
}

// WithClock overrides the time source, used by tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	if now != nil {
		p.now = now
	}
	return p
}

// LoadBulk inserts identifiers for server, skipping values already present
// anywhere in the pool. It returns the number of rows inserted.
func (p *Pool) LoadBulk(ctx context.Context, identifiers []string, server string) (int, error) {
	if p == nil || p.db == nil {
		return 0, fmt.Errorf("pool: not initialized")
	}
	server = strings.TrimSpace(server)
	if server == "" {
		return 0, fmt.Errorf("pool: server is required")
	}

	seen := make(map[string]struct{}, len(identifiers))
	rows := make([]models.Identifier, 0, len(identifiers))
	for _, raw := range identifiers {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		rows = append(rows, models.Identifier{UUID: value, Server: server})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var inserted int64
	errLoad := db.Retry(ctx, func(ctx context.Context) error {
		inserted = 0
		return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for start := 0; start < len(rows); start += loadBatchSize {
				end := min(start+loadBatchSize, len(rows))
				batch := make([]models.Identifier, end-start)
				copy(batch, rows[start:end])
				res := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "uuid"}},
					DoNothing: true,
				}).Create(&batch)
				if res.Error != nil {
					return res.Error
				}
				inserted += res.RowsAffected
			}
			return nil
		})
	})
	if errLoad != nil {
		return 0, fmt.Errorf("pool: load bulk: %w", errLoad)
	}
	return int(inserted), nil
}

// TakeFree returns one free identifier for server without reserving it.
func (p *Pool) TakeFree(ctx context.Context, server string) (models.Identifier, error) {
	var row models.Identifier
	errFind := p.db.WithContext(ctx).
		Where("server = ? AND is_used = ?", server, false).
		Order("id ASC").
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Identifier{}, ErrPoolExhausted
		}
		return models.Identifier{}, fmt.Errorf("pool: take free: %w", errFind)
	}
	return row, nil
}

// Assign marks value as used by telegramID with a single conditional update.
// Assigning to the current owner again is a no-op.
func (p *Pool) Assign(ctx context.Context, value string, telegramID int64) error {
	return p.assign(p.db.WithContext(ctx), value, telegramID)
}

func (p *Pool) assign(tx *gorm.DB, value string, telegramID int64) error {
	now := p.now().UTC()
	res := tx.Model(&models.Identifier{}).
		Where("uuid = ? AND is_used = ?", value, false).
		Updates(map[string]any{
			"is_used":     true,
			"telegram_id": telegramID,
			"assigned_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("pool: assign: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current models.Identifier
	errFind := tx.Where("uuid = ?", value).Take(&current).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("pool: assign lookup: %w", errFind)
	}
	if current.IsUsed && current.TelegramID != nil && *current.TelegramID == telegramID {
		return nil
	}
	return ErrAlreadyAssigned
}

// Claim takes a free identifier on server and assigns it to telegramID in
// one transaction. On PostgreSQL concurrent claimers skip each other's rows.
// ErrAlreadyAssigned signals a lost race and is safe to retry.
func (p *Pool) Claim(ctx context.Context, server string, telegramID int64) (models.Identifier, error) {
	if p == nil || p.db == nil {
		return models.Identifier{}, fmt.Errorf("pool: not initialized")
	}
	var claimed models.Identifier
	errTx := db.Retry(ctx, func(ctx context.Context) error {
		return p.claimOnce(ctx, server, telegramID, &claimed)
	})
	if errTx != nil {
		if errors.Is(errTx, ErrPoolExhausted) || errors.Is(errTx, ErrAlreadyAssigned) {
			return models.Identifier{}, errTx
		}
		return models.Identifier{}, fmt.Errorf("pool: claim: %w", errTx)
	}
	return claimed, nil
}

func (p *Pool) claimOnce(ctx context.Context, server string, telegramID int64, claimed *models.Identifier) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("server = ? AND is_used = ?", server, false).Order("id ASC")
		if db.SupportsRowLocks(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var row models.Identifier
		if errFind := q.Take(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrPoolExhausted
			}
			return errFind
		}
		if errAssign := p.assign(tx, row.UUID, telegramID); errAssign != nil {
			return errAssign
		}
		return tx.Where("id = ?", row.ID).Take(claimed).Error
	})
}

// Release returns value to the free set. Releasing a free identifier is a no-op.
func (p *Pool) Release(ctx context.Context, value string) error {
	res := p.db.WithContext(ctx).Model(&models.Identifier{}).
		Where("uuid = ?", value).
		Updates(map[string]any{
			"is_used":     false,
			"telegram_id": nil,
			"assigned_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("pool: release: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the identifier row for value.
func (p *Pool) Get(ctx context.Context, value string) (models.Identifier, error) {
	var row models.Identifier
	errFind := p.db.WithContext(ctx).Where("uuid = ?", strings.TrimSpace(value)).Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Identifier{}, ErrNotFound
		}
		return models.Identifier{}, fmt.Errorf("pool: get: %w", errFind)
	}
	return row, nil
}

// FindByUser lists identifiers currently held by telegramID.
func (p *Pool) FindByUser(ctx context.Context, telegramID int64) ([]models.Identifier, error) {
	var rows []models.Identifier
	if errFind := p.db.WithContext(ctx).
		Where("telegram_id = ? AND is_used = ?", telegramID, true).
		Order("assigned_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("pool: find by user: %w", errFind)
	}
	return rows, nil
}
