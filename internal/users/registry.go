// Package users keeps the subscriber registry.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/syntaxvpn/vpnpool/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry creates and reads users.
type Registry struct {
	db *gorm.DB
}

// NewRegistry constructs a Registry.
func NewRegistry(conn *gorm.DB) *Registry {
	return &Registry{db: conn}
}

// EnsureUser creates the user on first contact and reports whether it was new.
// Existing users get their display fields refreshed when new values are given.
func (r *Registry) EnsureUser(ctx context.Context, telegramID int64, username, fullName string) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("users: not initialized")
	}
	if telegramID == 0 {
		return false, fmt.Errorf("users: telegram id is required")
	}
	user := models.User{
		TelegramID: telegramID,
		Username:   strings.TrimSpace(username),
		FullName:   strings.TrimSpace(fullName),
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoNothing: true,
	}).Create(&user)
	if res.Error != nil {
		return false, fmt.Errorf("users: ensure: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	updates := map[string]any{}
	if user.Username != "" {
		updates["username"] = user.Username
	}
	if user.FullName != "" {
		updates["full_name"] = user.FullName
	}
	if len(updates) > 0 {
		if errUpdate := r.db.WithContext(ctx).Model(&models.User{}).
			Where("telegram_id = ?", telegramID).
			Updates(updates).Error; errUpdate != nil {
			return false, fmt.Errorf("users: refresh display fields: %w", errUpdate)
		}
	}
	return false, nil
}

// Get returns the user, or nil when unknown.
func (r *Registry) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	errFind := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Take(&user).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("users: get: %w", errFind)
	}
	return &user, nil
}
